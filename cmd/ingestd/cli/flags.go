package cli

import (
	"flag"

	"github.com/BurntSushi/toml"

	"github.com/ingestd/ingestd/pkg/config"
)

// Flags holds every setting ParseFlags understands, either from the
// command line or from a TOML config file named by -config.
var Flags struct {
	HttpHost string
	HttpPort string
	Basepath string

	WorkDir           string
	LongTermDir       string
	FilenamePrefix    string
	SortByMimeGroup   bool
	Collision         string
	MaxFileSize       int64
	MaxRequestSize    int64
	ExpirationMinutes int

	MaxConcurrentUploads int

	ConfigFile    string
	BehindProxy   bool
	ExposeMetrics bool
	MetricsPath   string
	VerboseOutput bool
	ShowVersion   bool
}

// fileConfig mirrors the subset of Flags that may be set from a TOML
// file; command-line flags that were explicitly passed take priority
// over it.
type fileConfig struct {
	Host                 string `toml:"host"`
	Port                 string `toml:"port"`
	BasePath             string `toml:"base_path"`
	WorkDir              string `toml:"work_dir"`
	LongTermDir          string `toml:"long_term_dir"`
	FilenamePrefix       string `toml:"filename_prefix"`
	SortByMimeGroup      bool   `toml:"sort_by_mime_group"`
	Collision            string `toml:"collision"`
	MaxFileSize          int64  `toml:"max_file_size"`
	MaxRequestSize       int64  `toml:"max_req_size"`
	ExpirationMinutes    int    `toml:"expiration_minutes"`
	MaxConcurrentUploads int    `toml:"max_concurrent_uploads"`
	BehindProxy          bool   `toml:"behind_proxy"`
	ExposeMetrics        bool   `toml:"expose_metrics"`
	MetricsPath          string `toml:"metrics_path"`
}

func ParseFlags() {
	def := config.Default()

	flag.StringVar(&Flags.HttpHost, "host", "0.0.0.0", "Host to bind the HTTP server to")
	flag.StringVar(&Flags.HttpPort, "port", "1080", "Port to bind the HTTP server to")
	flag.StringVar(&Flags.Basepath, "base-path", def.BasePath, "Basepath of the HTTP server")

	flag.StringVar(&Flags.WorkDir, "work-dir", def.WorkDir, "Directory to keep in-progress uploads in")
	flag.StringVar(&Flags.LongTermDir, "long-term-dir", def.LongTermDir, "Directory to move finalized uploads into")
	flag.StringVar(&Flags.FilenamePrefix, "filename-prefix", def.FilenamePrefix, "Prefix for the .part/.stream filenames inside an upload's working directory")
	flag.BoolVar(&Flags.SortByMimeGroup, "sort-by-mime-group", def.SortByMimeGroup, "Place finalized uploads under an image/audio/video subdirectory")
	flag.StringVar(&Flags.Collision, "collision", string(def.Collision), "How to resolve a long-term path collision: RENAME or REPLACE")
	flag.Int64Var(&Flags.MaxFileSize, "max-file-size", def.MaxFileSize, "Maximum declared Upload-Length in bytes; 0 means unlimited")
	flag.Int64Var(&Flags.MaxRequestSize, "max-req-size", def.MaxRequestSize, "Maximum size of a single PATCH/creation-with-upload body in bytes; 0 means unlimited")
	flag.IntVar(&Flags.ExpirationMinutes, "expiration-minutes", def.ExpirationMinutes, "Minutes after creation an upload remains valid")

	flag.IntVar(&Flags.MaxConcurrentUploads, "max-concurrent-uploads", 0, "Maximum number of POST/PATCH requests with a body allowed to stream concurrently; 0 means unlimited")

	flag.StringVar(&Flags.ConfigFile, "config", "", "Path to a TOML file overriding the defaults above")
	flag.BoolVar(&Flags.BehindProxy, "behind-proxy", false, "Has no effect: Location URLs always honor X-Forwarded-Proto and X-Forwarded-Host, whether or not this is set")
	flag.BoolVar(&Flags.ExposeMetrics, "expose-metrics", true, "Expose Prometheus metrics about ingestd usage")
	flag.StringVar(&Flags.MetricsPath, "metrics-path", "/metrics", "Path under which the metrics endpoint is served")
	flag.BoolVar(&Flags.VerboseOutput, "verbose", false, "Enable debug-level logging")
	flag.BoolVar(&Flags.ShowVersion, "version", false, "Print ingestd version information")

	flag.Parse()

	if Flags.ConfigFile != "" {
		applyFileConfig(Flags.ConfigFile)
	}
}

// applyFileConfig merges fields set in the TOML file at path into
// Flags, without overriding anything different from its flag.Parse
// default (a flag given explicitly on the command line always wins).
func applyFileConfig(path string) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		stderr.Fatalf("Unable to read config file %s: %s", path, err)
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if fc.Host != "" && !explicit["host"] {
		Flags.HttpHost = fc.Host
	}
	if fc.Port != "" && !explicit["port"] {
		Flags.HttpPort = fc.Port
	}
	if fc.BasePath != "" && !explicit["base-path"] {
		Flags.Basepath = fc.BasePath
	}
	if fc.WorkDir != "" && !explicit["work-dir"] {
		Flags.WorkDir = fc.WorkDir
	}
	if fc.LongTermDir != "" && !explicit["long-term-dir"] {
		Flags.LongTermDir = fc.LongTermDir
	}
	if fc.FilenamePrefix != "" && !explicit["filename-prefix"] {
		Flags.FilenamePrefix = fc.FilenamePrefix
	}
	if md.IsDefined("sort_by_mime_group") && !explicit["sort-by-mime-group"] {
		Flags.SortByMimeGroup = fc.SortByMimeGroup
	}
	if fc.Collision != "" && !explicit["collision"] {
		Flags.Collision = fc.Collision
	}
	if fc.MaxFileSize != 0 && !explicit["max-file-size"] {
		Flags.MaxFileSize = fc.MaxFileSize
	}
	if fc.MaxRequestSize != 0 && !explicit["max-req-size"] {
		Flags.MaxRequestSize = fc.MaxRequestSize
	}
	if fc.ExpirationMinutes != 0 && !explicit["expiration-minutes"] {
		Flags.ExpirationMinutes = fc.ExpirationMinutes
	}
	if fc.MaxConcurrentUploads != 0 && !explicit["max-concurrent-uploads"] {
		Flags.MaxConcurrentUploads = fc.MaxConcurrentUploads
	}
	if md.IsDefined("behind_proxy") && !explicit["behind-proxy"] {
		Flags.BehindProxy = fc.BehindProxy
	}
	if md.IsDefined("expose_metrics") && !explicit["expose-metrics"] {
		Flags.ExposeMetrics = fc.ExposeMetrics
	}
	if fc.MetricsPath != "" && !explicit["metrics-path"] {
		Flags.MetricsPath = fc.MetricsPath
	}
}
