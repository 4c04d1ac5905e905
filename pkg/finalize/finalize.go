// Package finalize implements the finalizer: once an upload's offset
// reaches its declared length, it sniffs the binary's mime type, gates
// on the allow-list, composes a long-term destination, moves the
// binary into place and invokes the on-complete hook.
package finalize

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/layout"
	"github.com/ingestd/ingestd/pkg/mimeclassifier"
	"github.com/ingestd/ingestd/pkg/reaper"
	"github.com/ingestd/ingestd/pkg/store"
)

// ErrUnsupportedMedia is returned when the sniffed mime type is not in
// the allow-list. The caller translates this into a 415 response; the
// record and working directory have already been removed.
var ErrUnsupportedMedia = errors.New("finalize: unsupported media type")

// Hooks are the embedder-supplied callbacks invoked around
// finalization.
type Hooks struct {
	// OnUploadComplete is invoked after a successful finalization. Its
	// error is logged and swallowed; it never unwinds finalization.
	OnUploadComplete func(ltsPath string, meta store.MetaData) error
	PreComplete       func(id string) error
	PostComplete      func(id string) error
}

// Finalizer moves completed uploads into long-term storage.
type Finalizer struct {
	cfg    config.Config
	store  store.Store
	reaper *reaper.Reaper
	hooks  Hooks
	log    zerolog.Logger
}

// New returns a Finalizer. reaper may be nil, in which case no
// opportunistic reap is triggered after finalization.
func New(cfg config.Config, s store.Store, rp *reaper.Reaper, hooks Hooks, log zerolog.Logger) *Finalizer {
	return &Finalizer{cfg: cfg, store: s, reaper: rp, hooks: hooks, log: log}
}

// Finalize completes the upload identified by id. For a concatenation
// partial this only marks the record complete; the bytes stay in the
// working directory awaiting assembly by a final. For any other
// upload it sniffs, gates, moves and invokes hooks.
func (f *Finalizer) Finalize(id string) error {
	r, err := f.store.Get(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if r.IsConcatenationPartial {
		r.Complete = true
		r.TimeUpdated = now
		return f.store.Update(r)
	}

	if f.hooks.PreComplete != nil {
		if err := f.hooks.PreComplete(id); err != nil {
			f.log.Warn().Err(err).Str("id", id).Msg("pre_complete hook failed")
		}
	}

	partPath := layout.PartPath(f.cfg, id)

	mime, err := mimeclassifier.Classify(partPath)
	if err != nil {
		return err
	}
	if !mimeclassifier.IsSupported(mime) {
		if rmErr := layout.RemoveWorkDir(f.cfg, id); rmErr != nil {
			f.log.Error().Err(rmErr).Str("id", id).Msg("failed to remove work dir after mime rejection")
		}
		if rmErr := f.store.Delete(id); rmErr != nil {
			f.log.Error().Err(rmErr).Str("id", id).Msg("failed to delete record after mime rejection")
		}
		return ErrUnsupportedMedia
	}

	filename, _ := r.MetaData().Get("filename")
	group := mimeclassifier.Group(mime)
	ext := mimeclassifier.Extension(mime)

	ltsPath, err := layout.LongTermPath(f.cfg, filename, group, ext)
	if err != nil {
		return err
	}

	if err := moveFile(partPath, ltsPath); err != nil {
		return err
	}

	r.Complete = true
	r.LTSPath = ltsPath
	r.UploadOffset = r.Length()
	r.TimeUpdated = now
	if err := f.store.Update(r); err != nil {
		return err
	}

	if f.hooks.OnUploadComplete != nil {
		if err := f.hooks.OnUploadComplete(ltsPath, r.MetaData()); err != nil {
			f.log.Error().Err(err).Str("id", id).Msg("on_upload_complete hook failed")
		}
	}
	if f.hooks.PostComplete != nil {
		if err := f.hooks.PostComplete(id); err != nil {
			f.log.Warn().Err(err).Str("id", id).Msg("post_complete hook failed")
		}
	}

	if f.reaper != nil {
		if _, err := f.reaper.Reap(now); err != nil {
			f.log.Warn().Err(err).Msg("opportunistic reap after finalization failed")
		}
	}

	return nil
}

// moveFile renames src to dst, falling back to a stream copy and
// unlink when the rename fails because they live on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()

	return os.Remove(src)
}
