package store

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/layout"
)

// Store is the metadata store's contract: a durable id -> Record map.
type Store interface {
	// Get returns the record for id, or ErrNotFound.
	Get(id string) (Record, error)
	// Create persists a new record. It fails with ErrAlreadyExists if
	// the working directory for id already holds one.
	Create(r Record) error
	// Update overwrites the record for r.ID, or returns ErrNotFound if
	// it does not exist. The record is written as given; callers set
	// TimeUpdated themselves.
	Update(r Record) error
	// Delete removes the record for id. It is idempotent: deleting an
	// id that does not exist is not an error.
	Delete(id string) error
	// FindExpired returns the ids of every record whose TimeExpires is
	// before now and which has not been finalized: not yet Complete,
	// or a concatenation partial (Complete or not, whether or not a
	// final has already referenced it).
	FindExpired(now time.Time) ([]string, error)
}

// FileStore is the on-disk Store, grounded on the teacher's
// basestore/fileinfostore JSON-per-id persistence idiom: one record
// lives at layout.InfoPath(cfg, id), written with a temp-file-and-
// rename to avoid partial writes being observed.
type FileStore struct {
	cfg config.Config
}

// NewFileStore returns a FileStore rooted at cfg.WorkDir.
func NewFileStore(cfg config.Config) *FileStore {
	return &FileStore{cfg: cfg}
}

func (s *FileStore) Get(id string) (Record, error) {
	data, err := os.ReadFile(layout.InfoPath(s.cfg, id))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *FileStore) Create(r Record) error {
	if err := layout.EnsureWorkDir(s.cfg, r.ID); err != nil {
		return err
	}

	path := layout.InfoPath(s.cfg, r.ID)
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return writeRecord(path, r)
}

func (s *FileStore) Update(r Record) error {
	path := layout.InfoPath(s.cfg, r.ID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	return writeRecord(path, r)
}

func (s *FileStore) Delete(id string) error {
	err := layout.RemoveWorkDir(s.cfg, id)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) FindExpired(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.WorkDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		r, err := s.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		// A concatenation-partial record sets Complete once its own
		// bytes finish streaming, but it is never moved to long-term
		// storage, so it stays eligible for expiration. References
		// from finals are not tracked.
		if (!r.Complete || r.IsConcatenationPartial) && r.TimeExpires.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// writeRecord marshals r and writes it atomically via a temp file in
// the same directory followed by a rename, so a reader never observes
// a partially written .info file.
func writeRecord(path string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
