package layout_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/layout"
)

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

func TestWorkingPaths(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)

	require.Equal(filepath.Join(cfg.WorkDir, "abc"), layout.WorkDir(cfg, "abc"))
	require.Equal(filepath.Join(cfg.WorkDir, "abc", "abc.part"), layout.PartPath(cfg, "abc"))
	require.Equal(filepath.Join(cfg.WorkDir, "abc", "abc.stream"), layout.StreamPath(cfg, "abc"))
	require.Equal(filepath.Join(cfg.WorkDir, "abc", "abc.info"), layout.InfoPath(cfg, "abc"))
}

func TestLongTermPathSortsByGroup(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)

	path, err := layout.LongTermPath(cfg, "photo.png", "image", "png")
	require.NoError(err)
	require.Equal(filepath.Join(cfg.LongTermDir, "image", "photo.png"), path)
}

func TestLongTermPathRenameOnCollision(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)
	cfg.SortByMimeGroup = false

	first, err := layout.LongTermPath(cfg, "photo.png", "image", "png")
	require.NoError(err)
	require.NoError(os.WriteFile(first, []byte("existing"), 0o644))

	second, err := layout.LongTermPath(cfg, "photo.png", "image", "png")
	require.NoError(err)
	require.NotEqual(first, second)
	require.True(len(filepath.Base(second)) > len("photo.png"))
}

func TestLongTermPathReplaceOnCollision(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t)
	cfg.SortByMimeGroup = false
	cfg.Collision = config.CollisionReplace

	first, err := layout.LongTermPath(cfg, "photo.png", "image", "png")
	require.NoError(err)
	require.NoError(os.WriteFile(first, []byte("existing"), 0o644))

	second, err := layout.LongTermPath(cfg, "photo.png", "image", "png")
	require.NoError(err)
	require.Equal(first, second)
	_, err = os.Stat(first)
	require.True(os.IsNotExist(err))
}
