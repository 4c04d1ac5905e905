package handler_test

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	ingestconfig "github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/finalize"
	"github.com/ingestd/ingestd/pkg/handler"
	"github.com/ingestd/ingestd/pkg/lock"
	"github.com/ingestd/ingestd/pkg/reaper"
	"github.com/ingestd/ingestd/pkg/store"
)

// testServer bundles a routed Handler with the ids it assigned, for
// assertions in tests that need to know what id a POST produced.
type testServer struct {
	*handler.Handler
	cfg   ingestconfig.Config
	store store.Store
	ids   int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	cfg := ingestconfig.Config{
		BasePath:          "/files/",
		WorkDir:           filepath.Join(dir, "work"),
		LongTermDir:       filepath.Join(dir, "media"),
		SortByMimeGroup:   true,
		Collision:         ingestconfig.CollisionRename,
		ExpirationMinutes: 60,
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.WorkDir, 0o775))

	s := store.NewFileStore(cfg)
	locker := lock.New(cfg.WorkDir)

	rp := reaper.New(cfg, s, reaper.Hooks{})
	fin := finalize.New(cfg, s, rp, finalize.Hooks{}, zerolog.Nop())

	ts := &testServer{cfg: cfg, store: s}

	h, err := handler.NewHandler(handler.Config{
		Upload:    cfg,
		Store:     s,
		Locker:    locker,
		Finalizer: fin,
		Reaper:    rp,
		Hooks: handler.Hooks{
			Naming: func(r *http.Request, meta store.MetaData) (string, error) {
				ts.ids++
				return fmt.Sprintf("%032x", ts.ids), nil
			},
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	ts.Handler = h

	return ts
}

func (ts *testServer) do(method, path string, header http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if header != nil {
		req.Header = header
	}
	if body != "" {
		req.ContentLength = int64(len(body))
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestOptionsAdvertisesCapabilities(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	rec := ts.do(http.MethodOptions, "/files/", nil, "")
	require.Equal(http.StatusNoContent, rec.Code)
	require.Equal("1.0.0", rec.Header().Get("Tus-Version"))
	require.Contains(rec.Header().Get("Tus-Extension"), "creation")
	require.Contains(rec.Header().Get("Tus-Checksum-Algorithm"), "sha256")
	require.Equal(fmt.Sprint(ts.cfg.MaxRequestSize), rec.Header().Get("Content-Length"))
}

func TestMethodOverrideRewritesVerb(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("X-HTTP-Method-Override", "OPTIONS")
	rec := ts.do(http.MethodPost, "/files/", header, "")
	require.Equal(http.StatusNoContent, rec.Code)
}

func TestMethodOverrideRejectsUnknownVerb(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("X-HTTP-Method-Override", "TRACE")
	rec := ts.do(http.MethodPost, "/files/", header, "")
	require.Equal(http.StatusBadRequest, rec.Code)
}

func metadataHeader(filename, filetype string) string {
	return "filename " + b64(filename) + ",filetype " + b64(filetype)
}

func TestTwoChunkUpload(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Upload-Length", "10")
	header.Set("Upload-Metadata", metadataHeader("test.gif", "image/gif"))
	rec := ts.do(http.MethodPost, "/files/", header, "")
	require.Equal(http.StatusCreated, rec.Code)
	location := rec.Header().Get("Location")
	require.NotEmpty(location)

	id := location[strings.LastIndex(location, "/")+1:]

	patchHeader := func(offset string) http.Header {
		h := http.Header{}
		h.Set("Content-Type", "application/offset+octet-stream")
		h.Set("Upload-Offset", offset)
		return h
	}

	rec = ts.do(http.MethodPatch, "/files/"+id, patchHeader("0"), "GIF89")
	require.Equal(http.StatusNoContent, rec.Code)
	require.Equal("5", rec.Header().Get("Upload-Offset"))

	rec = ts.do(http.MethodPatch, "/files/"+id, patchHeader("5"), "a1234")
	require.Equal(http.StatusNoContent, rec.Code)
	require.Equal("10", rec.Header().Get("Upload-Offset"))

	rec = ts.do(http.MethodGet, "/files/"+id, nil, "")
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("GIF89a1234", rec.Body.String())
}

func TestOffsetConflict(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Upload-Length", "10")
	header.Set("Upload-Metadata", metadataHeader("test.gif", "image/gif"))
	rec := ts.do(http.MethodPost, "/files/", header, "")
	location := rec.Header().Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]

	patchHeader := http.Header{}
	patchHeader.Set("Content-Type", "application/offset+octet-stream")
	patchHeader.Set("Upload-Offset", "0")
	rec = ts.do(http.MethodPatch, "/files/"+id, patchHeader, "GIF89")
	require.Equal(http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPatch, "/files/"+id, patchHeader, "extra")
	require.Equal(http.StatusConflict, rec.Code)

	headHeader := http.Header{}
	rec = ts.do(http.MethodHead, "/files/"+id, headHeader, "")
	require.Equal(http.StatusNoContent, rec.Code)
	require.Equal("5", rec.Header().Get("Upload-Offset"))
}

func TestDeferredLength(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Upload-Defer-Length", "1")
	header.Set("Upload-Metadata", metadataHeader("test.gif", "image/gif"))
	rec := ts.do(http.MethodPost, "/files/", header, "")
	require.Equal(http.StatusCreated, rec.Code)
	location := rec.Header().Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]

	patchHeader := http.Header{}
	patchHeader.Set("Content-Type", "application/offset+octet-stream")
	patchHeader.Set("Upload-Offset", "0")
	patchHeader.Set("Upload-Length", "6")
	rec = ts.do(http.MethodPatch, "/files/"+id, patchHeader, "GIF89a")
	require.Equal(http.StatusNoContent, rec.Code)

	got, err := ts.store.Get(id)
	require.NoError(err)
	require.True(got.Complete)
}

func TestChecksumMismatch(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Upload-Length", "5")
	header.Set("Upload-Metadata", metadataHeader("test.txt", "image/png"))
	header.Set("Upload-Checksum", "sha1 "+strings.Repeat("0", 40))
	rec := ts.do(http.MethodPost, "/files/", header, "hello")
	require.Equal(460, rec.Code)
}

func TestDeleteRemovesUpload(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Upload-Length", "5")
	header.Set("Upload-Metadata", metadataHeader("test.txt", "image/png"))
	rec := ts.do(http.MethodPost, "/files/", header, "")
	location := rec.Header().Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]

	rec = ts.do(http.MethodDelete, "/files/"+id, nil, "")
	require.Equal(http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodHead, "/files/"+id, nil, "")
	require.Equal(http.StatusNotFound, rec.Code)
}

func TestExpirationReap(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t)

	now := time.Now().UTC()
	require.NoError(ts.store.Create(store.Record{
		ID:          "ffffffffffffffffffffffffffffffff",
		TimeCreated: now.Add(-2 * time.Minute),
		TimeUpdated: now.Add(-2 * time.Minute),
		TimeExpires: now.Add(-time.Minute),
	}))

	rec := ts.do(http.MethodGet, "/files/", nil, "")
	require.Equal(http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodHead, "/files/ffffffffffffffffffffffffffffffff", nil, "")
	require.Equal(http.StatusNotFound, rec.Code)
}
