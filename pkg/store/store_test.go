package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{WorkDir: filepath.Join(t.TempDir(), "work")}
}

func TestCreateGet(t *testing.T) {
	require := require.New(t)
	s := store.NewFileStore(testConfig(t))

	now := time.Now().UTC().Truncate(time.Second)
	r := store.Record{
		ID:          "abc123",
		UploadOffset: 0,
		TimeCreated: now,
		TimeUpdated: now,
		TimeExpires: now.Add(time.Hour),
	}
	r.SetLength(10)
	r.SetMetaData(store.NewMetaData([]string{"filename", "filetype"}, map[string]string{
		"filename": "photo.png",
		"filetype": "image/png",
	}))

	require.NoError(s.Create(r))
	require.ErrorIs(s.Create(r), store.ErrAlreadyExists)

	got, err := s.Get("abc123")
	require.NoError(err)
	require.Equal(r.ID, got.ID)
	require.True(got.HasLength())
	require.Equal(int64(10), got.Length())
	filename, ok := got.MetaData().Get("filename")
	require.True(ok)
	require.Equal("photo.png", filename)

	_, err = s.Get("does-not-exist")
	require.ErrorIs(err, store.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	require := require.New(t)
	s := store.NewFileStore(testConfig(t))

	now := time.Now().UTC()
	r := store.Record{ID: "xyz", TimeCreated: now, TimeUpdated: now, TimeExpires: now.Add(time.Hour)}
	require.NoError(s.Create(r))

	r.UploadOffset = 5
	require.NoError(s.Update(r))

	got, err := s.Get("xyz")
	require.NoError(err)
	require.Equal(int64(5), got.UploadOffset)

	require.ErrorIs(s.Update(store.Record{ID: "missing"}), store.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	require := require.New(t)
	s := store.NewFileStore(testConfig(t))

	r := store.Record{ID: "del-me"}
	require.NoError(s.Create(r))
	require.NoError(s.Delete("del-me"))
	require.NoError(s.Delete("del-me"))

	_, err := s.Get("del-me")
	require.ErrorIs(err, store.ErrNotFound)
}

func TestFindExpired(t *testing.T) {
	require := require.New(t)
	s := store.NewFileStore(testConfig(t))

	now := time.Now().UTC()

	expired := store.Record{ID: "expired", TimeExpires: now.Add(-time.Minute)}
	fresh := store.Record{ID: "fresh", TimeExpires: now.Add(time.Hour)}
	finalizedButOld := store.Record{ID: "finalized", TimeExpires: now.Add(-time.Minute), Complete: true}
	unreferencedPartial := store.Record{
		ID:                     "partial",
		TimeExpires:            now.Add(-time.Minute),
		Complete:               true,
		IsConcatenationPartial: true,
	}

	require.NoError(s.Create(expired))
	require.NoError(s.Create(fresh))
	require.NoError(s.Create(finalizedButOld))
	require.NoError(s.Create(unreferencedPartial))

	ids, err := s.FindExpired(now)
	require.NoError(err)
	require.ElementsMatch([]string{"expired", "partial"}, ids)
}
