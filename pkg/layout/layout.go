// Package layout builds the deterministic filesystem paths an upload
// occupies while in progress and once finalized, and resolves name
// collisions in long-term storage. It performs no I/O beyond what is
// strictly needed to resolve a collision (stat-ing candidate paths) or
// to create/remove directories.
package layout

import (
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ingestd/ingestd/pkg/config"
)

// WorkDir returns the per-upload working directory, <work>/<id>/.
func WorkDir(cfg config.Config, id string) string {
	return filepath.Join(cfg.WorkDir, id)
}

// InfoPath returns the path of the persisted metadata record for id.
func InfoPath(cfg config.Config, id string) string {
	return filepath.Join(WorkDir(cfg, id), cfg.FilenamePrefix+id+".info")
}

// PartPath returns the path of the accumulator file holding the bytes
// durably stored for id so far.
func PartPath(cfg config.Config, id string) string {
	return filepath.Join(WorkDir(cfg, id), cfg.FilenamePrefix+id+".part")
}

// StreamPath returns the path of the transient scratch file a PATCH or
// creation-with-upload request appends incoming chunks to before they
// are verified and merged into the .part file.
func StreamPath(cfg config.Config, id string) string {
	return filepath.Join(WorkDir(cfg, id), cfg.FilenamePrefix+id+".stream")
}

// EnsureWorkDir creates the working directory for id if it does not
// already exist.
func EnsureWorkDir(cfg config.Config, id string) error {
	return os.MkdirAll(WorkDir(cfg, id), 0o754)
}

// RemoveWorkDir recursively removes the working directory for id. It
// is not an error if the directory is already gone.
func RemoveWorkDir(cfg config.Config, id string) error {
	return os.RemoveAll(WorkDir(cfg, id))
}

// basename strips any extension from filename, e.g. "photo.tar.gz" ->
// "photo.tar". Only the final extension is stripped, matching the
// spec's "basename is derived from metadata.filename stripped of any
// extension" (singular).
func basename(filename string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext)
}

// LongTermPath composes the destination path for a finalized upload
// and resolves any name collision according to cfg.Collision. group
// and extension come from the sniffed mime type (see mimeclassifier).
// If cfg.SortByMimeGroup is false, group is ignored.
func LongTermPath(cfg config.Config, filename, group, extension string) (string, error) {
	base := basename(filename)
	if base == "" {
		base = "upload"
	}

	dir := cfg.LongTermDir
	if cfg.SortByMimeGroup && group != "" {
		dir = filepath.Join(dir, group)
	}
	if err := os.MkdirAll(dir, 0o754); err != nil {
		return "", err
	}

	candidate := filepath.Join(dir, base+"."+extension)

	switch cfg.Collision {
	case config.CollisionReplace:
		if err := os.Remove(candidate); err != nil && !os.IsNotExist(err) {
			return "", err
		}
		return candidate, nil

	default: // config.CollisionRename
		for {
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, nil
			}
			suffix, err := randomBase36(10)
			if err != nil {
				return "", err
			}
			candidate = filepath.Join(dir, base+"-"+suffix+"."+extension)
		}
	}
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomBase36 returns a random base36 string of length n, used for
// the RENAME collision policy's disambiguating suffix.
func randomBase36(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36Alphabet))))
		if err != nil {
			return "", err
		}
		b[i] = base36Alphabet[idx.Int64()]
	}
	return string(b), nil
}
