package reaper_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/reaper"
	"github.com/ingestd/ingestd/pkg/store"
)

func TestReapRemovesOnlyExpired(t *testing.T) {
	require := require.New(t)

	cfg := config.Config{WorkDir: filepath.Join(t.TempDir(), "work")}
	s := store.NewFileStore(cfg)
	now := time.Now().UTC()

	require.NoError(s.Create(store.Record{ID: "expired", TimeExpires: now.Add(-time.Minute)}))
	require.NoError(s.Create(store.Record{ID: "fresh", TimeExpires: now.Add(time.Hour)}))

	var preCalls, postCalls []string
	r := reaper.New(cfg, s, reaper.Hooks{
		PreExpire:  func(id string) error { preCalls = append(preCalls, id); return nil },
		PostExpire: func(id string) error { postCalls = append(postCalls, id); return nil },
	})

	n, err := r.Reap(now)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal([]string{"expired"}, preCalls)
	require.Equal([]string{"expired"}, postCalls)

	_, err = s.Get("expired")
	require.ErrorIs(err, store.ErrNotFound)

	_, err = s.Get("fresh")
	require.NoError(err)
}

func TestReapIsIdempotent(t *testing.T) {
	require := require.New(t)

	cfg := config.Config{WorkDir: filepath.Join(t.TempDir(), "work")}
	s := store.NewFileStore(cfg)
	now := time.Now().UTC()
	require.NoError(s.Create(store.Record{ID: "expired", TimeExpires: now.Add(-time.Minute)}))

	r := reaper.New(cfg, s, reaper.Hooks{})

	n, err := r.Reap(now)
	require.NoError(err)
	require.Equal(1, n)

	n, err = r.Reap(now)
	require.NoError(err)
	require.Equal(0, n)
}
