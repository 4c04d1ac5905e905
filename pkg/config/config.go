// Package config provides the immutable settings that every other
// component of ingestd is constructed from: which tus extensions are
// advertised, where uploads live on disk while in progress and once
// finalized, and the size and expiration limits enforced by the
// protocol engine.
package config

import (
	"errors"
	"time"
)

// CollisionPolicy controls what happens when a finalized upload's
// long-term destination path already exists.
type CollisionPolicy string

const (
	// CollisionRename appends a random suffix to the basename until an
	// unused path is found.
	CollisionRename CollisionPolicy = "RENAME"
	// CollisionReplace removes the existing file before moving the
	// finalized upload into place.
	CollisionReplace CollisionPolicy = "REPLACE"
)

// ProtocolVersion is the tus resumable upload protocol version ingestd
// implements. Only v1.0.0 is supported; see spec Non-goals.
const ProtocolVersion = "1.0.0"

// SupportedExtensions are the tus extensions advertised in the
// Tus-Extension header of an OPTIONS response.
var SupportedExtensions = []string{
	"creation",
	"creation-with-upload",
	"creation-defer-length",
	"termination",
	"concatenation",
	"checksum",
	"expiration",
}

// Config holds the immutable settings for an ingestd server. It is
// validated once at startup and then passed by value to every
// component that needs it.
type Config struct {
	// BasePath is the URL path prefix under which uploads are served,
	// e.g. "/files/". Always ends with a trailing slash after Validate.
	BasePath string

	// WorkDir is where in-progress uploads are kept, one subdirectory
	// per upload id.
	WorkDir string
	// LongTermDir is the destination directory for finalized uploads.
	LongTermDir string
	// FilenamePrefix is prepended to the id when naming the .part and
	// .stream files inside an upload's working directory.
	FilenamePrefix string

	// SortByMimeGroup controls whether finalized uploads are placed
	// under a subdirectory named after their top-level mime group
	// (image/audio/video).
	SortByMimeGroup bool
	// Collision controls how a name clash in LongTermDir is resolved.
	Collision CollisionPolicy

	// MaxFileSize is the maximum number of bytes a single upload may
	// declare via Upload-Length. Zero means unlimited.
	MaxFileSize int64
	// MaxRequestSize is the maximum number of bytes accepted in a single
	// PATCH or creation-with-upload request body. Zero means unlimited.
	MaxRequestSize int64

	// ExpirationMinutes is how long after creation an upload remains
	// valid. time_expires is computed once at creation and never
	// renewed by activity.
	ExpirationMinutes int
}

// Default returns a Config with conservative defaults; callers should
// still set WorkDir and LongTermDir explicitly.
func Default() Config {
	return Config{
		BasePath:          "/files/",
		WorkDir:           "./data/uploads",
		LongTermDir:       "./data/media",
		FilenamePrefix:    "",
		SortByMimeGroup:   true,
		Collision:         CollisionRename,
		MaxFileSize:       0,
		MaxRequestSize:    0,
		ExpirationMinutes: 24 * 60,
	}
}

// Expiration returns the duration an upload remains valid for after
// creation.
func (c Config) Expiration() time.Duration {
	return time.Duration(c.ExpirationMinutes) * time.Minute
}

// Validate normalizes BasePath and checks that required fields are set.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("ingestd: config: WorkDir must not be empty")
	}
	if c.LongTermDir == "" {
		return errors.New("ingestd: config: LongTermDir must not be empty")
	}
	if c.BasePath == "" {
		c.BasePath = "/"
	}
	if c.BasePath[len(c.BasePath)-1] != '/' {
		c.BasePath += "/"
	}
	if c.BasePath[0] != '/' {
		c.BasePath = "/" + c.BasePath
	}
	switch c.Collision {
	case CollisionRename, CollisionReplace:
	case "":
		c.Collision = CollisionRename
	default:
		return errors.New("ingestd: config: Collision must be RENAME or REPLACE")
	}
	if c.ExpirationMinutes <= 0 {
		return errors.New("ingestd: config: ExpirationMinutes must be positive")
	}
	return nil
}
