package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ingestd/ingestd/internal/semaphore"
	"github.com/ingestd/ingestd/internal/uid"
	ingestconfig "github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/finalize"
	"github.com/ingestd/ingestd/pkg/handler"
	"github.com/ingestd/ingestd/pkg/lock"
	"github.com/ingestd/ingestd/pkg/reaper"
	"github.com/ingestd/ingestd/pkg/store"
)

// Serve builds the upload config and every component it drives, wraps
// the routed Handler with an optional concurrency limiter, and blocks
// serving HTTP until an interrupt signal is received.
func Serve() {
	cfg := ingestconfig.Config{
		BasePath:          Flags.Basepath,
		WorkDir:           Flags.WorkDir,
		LongTermDir:       Flags.LongTermDir,
		FilenamePrefix:    Flags.FilenamePrefix,
		SortByMimeGroup:   Flags.SortByMimeGroup,
		Collision:         ingestconfig.CollisionPolicy(strings.ToUpper(Flags.Collision)),
		MaxFileSize:       Flags.MaxFileSize,
		MaxRequestSize:    Flags.MaxRequestSize,
		ExpirationMinutes: Flags.ExpirationMinutes,
	}
	if err := cfg.Validate(); err != nil {
		stderr.Fatalf("Invalid configuration: %s", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o775); err != nil {
		stderr.Fatalf("Unable to ensure work directory exists: %s", err)
	}
	if err := os.MkdirAll(cfg.LongTermDir, 0o775); err != nil {
		stderr.Fatalf("Unable to ensure long-term directory exists: %s", err)
	}

	s := store.NewFileStore(cfg)
	locker := lock.New(cfg.WorkDir)

	log := NewLogger()

	rp := reaper.New(cfg, s, reaper.Hooks{
		PostExpire: func(id string) error {
			log.Info().Str("id", id).Msg("upload expired")
			return nil
		},
	})

	fin := finalize.New(cfg, s, rp, finalize.Hooks{
		OnUploadComplete: func(ltsPath string, meta store.MetaData) error {
			filename, _ := meta.Get("filename")
			log.Info().Str("path", ltsPath).Str("filename", filename).Msg("upload finalized")
			return nil
		},
	}, log)

	h, err := handler.NewHandler(handler.Config{
		Upload:    cfg,
		Store:     s,
		Locker:    locker,
		Finalizer: fin,
		Reaper:    rp,
		Hooks: handler.Hooks{
			Naming: func(r *http.Request, meta store.MetaData) (string, error) {
				return uid.New(), nil
			},
			PreTerminate: func(id string) error {
				log.Info().Str("id", id).Msg("upload terminated")
				return nil
			},
		},
		Logger: log,
	})
	if err != nil {
		stderr.Fatalf("Unable to create handler: %s", err)
	}

	var uploadHandler http.Handler = h
	if Flags.MaxConcurrentUploads > 0 {
		uploadHandler = limitConcurrentUploads(h, Flags.MaxConcurrentUploads)
	}

	PrepareGreeting()

	mux := http.NewServeMux()
	basepathWithoutSlash := strings.TrimSuffix(cfg.BasePath, "/")
	basepathWithSlash := basepathWithoutSlash + "/"
	if basepathWithoutSlash == "" {
		mux.Handle("/", uploadHandler)
	} else {
		mux.HandleFunc("/", DisplayGreeting)
		mux.Handle(basepathWithSlash, http.StripPrefix(basepathWithSlash, uploadHandler))
		mux.Handle(basepathWithoutSlash, http.StripPrefix(basepathWithoutSlash, uploadHandler))
	}

	if Flags.ExposeMetrics {
		SetupMetrics(mux, h)
	}

	address := Flags.HttpHost + ":" + Flags.HttpPort
	listener, err := NewListener(address)
	if err != nil {
		stderr.Fatalf("Unable to create listener: %s", err)
	}

	stdout.Printf("Using %s as the base path.", cfg.BasePath)
	stdout.Printf("You can now upload files to: http://%s%s", listener.Addr(), cfg.BasePath)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	shutdownComplete := setupSignalHandler(server)

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownComplete
	} else {
		stderr.Fatalf("Unable to serve: %s", err)
	}
}

// limitConcurrentUploads bounds the number of requests carrying a body
// (POST with creation-with-upload, and PATCH) that may stream into
// ingestChunk at once; every other verb passes straight through.
func limitConcurrentUploads(next http.Handler, max int) http.Handler {
	sem := semaphore.New(max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") == "chunked"
		if (r.Method != http.MethodPost && r.Method != http.MethodPatch) || !hasBody {
			next.ServeHTTP(w, r)
			return
		}

		sem.Acquire()
		defer sem.Release()
		next.ServeHTTP(w, r)
	})
}

func setupSignalHandler(server *http.Server) <-chan struct{} {
	shutdownComplete := make(chan struct{})

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		stdout.Println("Received interrupt signal. Shutting down ingestd...")

		go func() {
			<-c
			stdout.Println("Received second interrupt signal. Exiting immediately!")
			os.Exit(1)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err == nil {
			stdout.Println("Shutdown completed. Goodbye!")
		} else if errors.Is(err, context.DeadlineExceeded) {
			stderr.Println("Shutdown timeout exceeded. Exiting immediately!")
		} else {
			stderr.Printf("Failed to shutdown gracefully: %s", err)
		}

		close(shutdownComplete)
	}()

	return shutdownComplete
}
