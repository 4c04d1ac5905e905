package finalize_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/finalize"
	"github.com/ingestd/ingestd/pkg/layout"
	"github.com/ingestd/ingestd/pkg/store"
)

// a minimal valid PNG signature + IHDR-ish bytes, enough for mimetype
// to sniff image/png.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		WorkDir:           filepath.Join(dir, "work"),
		LongTermDir:       filepath.Join(dir, "media"),
		SortByMimeGroup:   true,
		Collision:         config.CollisionRename,
		ExpirationMinutes: 60,
	}
}

func TestFinalizeMovesToLongTerm(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)
	s := store.NewFileStore(cfg)

	id := "upload1"
	require.NoError(layout.EnsureWorkDir(cfg, id))
	require.NoError(os.WriteFile(layout.PartPath(cfg, id), pngBytes, 0o644))

	now := time.Now().UTC()
	length := int64(len(pngBytes))
	r := store.Record{ID: id, UploadLength: &length, UploadOffset: length, TimeCreated: now, TimeUpdated: now, TimeExpires: now.Add(time.Hour)}
	r.SetMetaData(store.NewMetaData([]string{"filename", "filetype"}, map[string]string{"filename": "photo.png", "filetype": "image/png"}))
	require.NoError(s.Create(r))

	var hookPath string
	f := finalize.New(cfg, s, nil, finalize.Hooks{
		OnUploadComplete: func(ltsPath string, meta store.MetaData) error {
			hookPath = ltsPath
			return nil
		},
	}, zerolog.Nop())

	require.NoError(f.Finalize(id))

	got, err := s.Get(id)
	require.NoError(err)
	require.True(got.Complete)
	require.NotEmpty(got.LTSPath)
	require.Equal(got.LTSPath, hookPath)
	require.FileExists(got.LTSPath)

	_, err = os.Stat(layout.PartPath(cfg, id))
	require.True(os.IsNotExist(err))
}

func TestFinalizeRejectsUnsupportedMedia(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)
	s := store.NewFileStore(cfg)

	id := "upload2"
	require.NoError(layout.EnsureWorkDir(cfg, id))
	require.NoError(os.WriteFile(layout.PartPath(cfg, id), []byte("plain text content"), 0o644))

	now := time.Now().UTC()
	r := store.Record{ID: id, TimeCreated: now, TimeUpdated: now, TimeExpires: now.Add(time.Hour)}
	r.SetMetaData(store.NewMetaData([]string{"filename", "filetype"}, map[string]string{"filename": "notes.txt", "filetype": "text/plain"}))
	require.NoError(s.Create(r))

	f := finalize.New(cfg, s, nil, finalize.Hooks{}, zerolog.Nop())
	require.ErrorIs(f.Finalize(id), finalize.ErrUnsupportedMedia)

	_, err := s.Get(id)
	require.ErrorIs(err, store.ErrNotFound)
}

func TestFinalizeConcatenationPartialStaysInPlace(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)
	s := store.NewFileStore(cfg)

	id := "partial1"
	require.NoError(layout.EnsureWorkDir(cfg, id))
	require.NoError(os.WriteFile(layout.PartPath(cfg, id), []byte("foo"), 0o644))

	now := time.Now().UTC()
	r := store.Record{ID: id, IsConcatenationPartial: true, UploadOffset: 3, TimeCreated: now, TimeUpdated: now, TimeExpires: now.Add(time.Hour)}
	require.NoError(s.Create(r))

	f := finalize.New(cfg, s, nil, finalize.Hooks{}, zerolog.Nop())
	require.NoError(f.Finalize(id))

	got, err := s.Get(id)
	require.NoError(err)
	require.True(got.Complete)
	require.Empty(got.LTSPath)
	require.FileExists(layout.PartPath(cfg, id))
}
