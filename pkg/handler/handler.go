package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestd/ingestd/pkg/checksum"
	ingestconfig "github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/finalize"
	"github.com/ingestd/ingestd/pkg/layout"
	"github.com/ingestd/ingestd/pkg/lock"
	"github.com/ingestd/ingestd/pkg/mimeclassifier"
	"github.com/ingestd/ingestd/pkg/reaper"
	"github.com/ingestd/ingestd/pkg/store"
)

// reUploadID matches a well-formed 128-bit hex upload id, as produced
// by the naming hook's default uuid-based implementation.
var reUploadID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// appendChunkSize is the buffer size used when merging a verified
// scratch file into an upload's .part accumulator.
const appendChunkSize = 4 * 1024

var validOverrideMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodOptions: true,
	http.MethodHead:    true,
}

// Config bundles everything UnroutedHandler needs: the immutable
// upload settings, the metadata store, the per-id locker, the
// finalizer and reaper it delegates to on completion, and the
// embedder's hooks.
type Config struct {
	Upload    ingestconfig.Config
	Store     store.Store
	Locker    lock.Locker
	Finalizer *finalize.Finalizer
	Reaper    *reaper.Reaper
	Hooks     Hooks
	Logger    zerolog.Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("handler: config: Store must be set")
	}
	if c.Hooks.Naming == nil {
		return errors.New("handler: config: Hooks.Naming must be set")
	}
	if reflect.DeepEqual(c.Logger, zerolog.Logger{}) {
		c.Logger = zerolog.Nop()
	}
	if err := c.Upload.Validate(); err != nil {
		return err
	}
	return nil
}

// UnroutedHandler exposes the tus verbs as plain handler methods,
// without routing; Handler wraps it with method-override rewriting
// and path-based dispatch.
type UnroutedHandler struct {
	cfg     Config
	log     zerolog.Logger
	Metrics Metrics
}

// NewUnroutedHandler validates cfg and constructs an UnroutedHandler.
func NewUnroutedHandler(cfg Config) (*UnroutedHandler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &UnroutedHandler{cfg: cfg, log: cfg.Logger, Metrics: newMetrics()}, nil
}

// Handler is the routed entry point: an http.Handler applying the
// X-HTTP-Method-Override rewrite and dispatching by path.
type Handler struct {
	*UnroutedHandler
}

// NewHandler constructs a routed Handler.
func NewHandler(cfg Config) (*Handler, error) {
	unrouted, err := NewUnroutedHandler(cfg)
	if err != nil {
		return nil, err
	}
	return &Handler{unrouted}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.Method
	if override := r.Header.Get("X-HTTP-Method-Override"); override != "" {
		if !validOverrideMethods[strings.ToUpper(override)] {
			h.fail(w, ErrInvalidMethodOverride)
			return
		}
		method = strings.ToUpper(override)
	}
	h.Metrics.incRequestsTotal(method)

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, h.cfg.Upload.BasePath), "/")

	switch {
	case method == http.MethodOptions:
		h.Options(w, r)
	case method == http.MethodPost && id == "":
		h.Post(w, r)
	case method == http.MethodGet && id == "":
		h.Reap(w, r)
	case method == http.MethodHead && id != "":
		h.Head(w, r, id)
	case method == http.MethodPatch && id != "":
		h.Patch(w, r, id)
	case method == http.MethodGet && id != "":
		h.Get(w, r, id)
	case method == http.MethodDelete && id != "":
		h.Delete(w, r, id)
	default:
		h.fail(w, ErrNotFound)
	}
}

// sendError writes err to w, translating a handler.Error into its
// carried HTTPResponse and anything else into a generic 500.
func sendError(w http.ResponseWriter, err error) {
	var herr Error
	if errors.As(err, &herr) {
		herr.HTTPResponse.writeTo(w)
		return
	}
	NewError("ERR_INTERNAL", "internal error", http.StatusInternalServerError).HTTPResponse.writeTo(w)
}

func (h *UnroutedHandler) sendInternalError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("internal error")
	h.fail(w, err)
}

// fail writes err to w and records it in the error counter.
func (h *UnroutedHandler) fail(w http.ResponseWriter, err error) {
	var herr Error
	code := http.StatusInternalServerError
	msg := "internal error"
	if errors.As(err, &herr) {
		code = herr.HTTPResponse.StatusCode
		msg = herr.ErrorCode
	}
	h.Metrics.incErrorsTotal(code, msg)
	sendError(w, err)
}

// Options advertises protocol capabilities.
func (h *UnroutedHandler) Options(w http.ResponseWriter, r *http.Request) {
	resp := HTTPResponse{
		StatusCode: http.StatusNoContent,
		Header: HTTPHeader{
			"Tus-Resumable":          ingestconfig.ProtocolVersion,
			"Tus-Version":            ingestconfig.ProtocolVersion,
			"Tus-Extension":          strings.Join(ingestconfig.SupportedExtensions, ","),
			"Tus-Checksum-Algorithm": checksum.SupportedAlgorithms(),
			"Content-Length":         strconv.FormatInt(h.cfg.Upload.MaxRequestSize, 10),
		},
	}
	if h.cfg.Upload.MaxFileSize > 0 {
		resp.Header["Tus-Max-Size"] = strconv.FormatInt(h.cfg.Upload.MaxFileSize, 10)
	}
	resp.writeTo(w)
}

// Post creates a new upload, or delegates to the concatenation
// assembler when Upload-Concat starts a final.
func (h *UnroutedHandler) Post(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Upload

	deferHeader := r.Header.Get("Upload-Defer-Length")
	if deferHeader != "" && deferHeader != "1" {
		h.fail(w, ErrInvalidDeferLength)
		return
	}
	deferLength := deferHeader == "1"

	concatHeader := r.Header.Get("Upload-Concat")
	if concatHeader != "" && concatHeader != "partial" && !strings.HasPrefix(concatHeader, "final;") {
		h.fail(w, ErrInvalidConcat)
		return
	}
	isPartial := concatHeader == "partial"
	isFinal := strings.HasPrefix(concatHeader, "final;")

	if isFinal {
		h.postFinal(w, r, concatHeader)
		return
	}

	lengthHeader := r.Header.Get("Upload-Length")
	if (lengthHeader != "") == deferLength {
		// Exactly one of the two must be present: either both are
		// present/absent together (ambiguous or missing) and this is
		// invalid.
		h.fail(w, ErrInvalidUploadLength)
		return
	}

	var length *int64
	if lengthHeader != "" {
		n, err := strconv.ParseInt(lengthHeader, 10, 64)
		if err != nil || n < 0 {
			h.fail(w, ErrInvalidUploadLength)
			return
		}
		if cfg.MaxFileSize > 0 && n > cfg.MaxFileSize {
			h.fail(w, ErrMaxSizeExceeded)
			return
		}
		length = &n
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/offset+octet-stream" {
		h.fail(w, ErrInvalidContentType)
		return
	}

	checksumHeader, err := parseOptionalChecksumHeader(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	meta := ParseMetadataHeader(r.Header.Get("Upload-Metadata"))
	if !isPartial {
		_, hasFilename := meta.Get("filename")
		filetype, hasFiletype := meta.Get("filetype")
		if !hasFilename || !hasFiletype {
			h.fail(w, ErrInvalidMetadata)
			return
		}
		if !mimeclassifier.IsSupported(filetype) {
			h.fail(w, ErrUnsupportedMediaType)
			return
		}
	}

	id, err := h.cfg.Hooks.Naming(r, meta)
	if err != nil {
		h.sendInternalError(w, err)
		return
	}

	release, err := h.cfg.Locker.Lock(r.Context(), id)
	if err != nil {
		h.sendInternalError(w, err)
		return
	}
	defer release()

	now := time.Now().UTC()
	rec := store.Record{
		ID:                     id,
		LengthDeferred:         deferLength,
		IsConcatenationPartial: isPartial,
		TimeCreated:            now,
		TimeUpdated:            now,
		TimeExpires:            now.Add(cfg.Expiration()),
	}
	if length != nil {
		rec.SetLength(*length)
	}
	rec.SetMetaData(meta)

	if err := layout.EnsureWorkDir(cfg, id); err != nil {
		h.sendInternalError(w, err)
		return
	}
	partFile, err := os.OpenFile(layout.PartPath(cfg, id), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.sendInternalError(w, err)
		return
	}
	partFile.Close()

	if err := h.cfg.Store.Create(rec); err != nil {
		h.sendInternalError(w, err)
		return
	}
	h.Metrics.incUploadsCreated()

	if hasRequestBody(r) {
		newOffset, err := h.ingestChunk(w, r, cfg, id, checksumHeader, cfg.MaxRequestSize)
		if err != nil {
			h.fail(w, err)
			return
		}
		rec.UploadOffset = newOffset
		rec.TimeUpdated = time.Now().UTC()
		if err := h.cfg.Store.Update(rec); err != nil {
			h.sendInternalError(w, err)
			return
		}
	}

	if rec.HasLength() && rec.UploadOffset == rec.Length() {
		if h.cfg.Finalizer != nil {
			if err := h.cfg.Finalizer.Finalize(id); err != nil {
				if errors.Is(err, finalize.ErrUnsupportedMedia) {
					h.fail(w, ErrUnsupportedMediaType)
					return
				}
				h.sendInternalError(w, err)
				return
			}
			h.Metrics.incUploadsFinished()
		}
	}

	resp := HTTPResponse{
		StatusCode: http.StatusCreated,
		Header: HTTPHeader{
			"Tus-Resumable": ingestconfig.ProtocolVersion,
			"Location":      h.absFileURL(r, id),
			"Upload-Offset": strconv.FormatInt(rec.UploadOffset, 10),
		},
	}
	resp.writeTo(w)
}

// Head reports the current offset and length for id.
func (h *UnroutedHandler) Head(w http.ResponseWriter, r *http.Request, id string) {
	if !reUploadID.MatchString(id) {
		h.fail(w, ErrInvalidID)
		return
	}

	rec, err := h.cfg.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, ErrNotFound)
		return
	}
	if err != nil {
		h.sendInternalError(w, err)
		return
	}

	header := HTTPHeader{
		"Tus-Resumable": ingestconfig.ProtocolVersion,
		"Upload-Offset": strconv.FormatInt(rec.UploadOffset, 10),
		"Cache-Control": "no-store",
	}
	if rec.LengthDeferred {
		header["Upload-Defer-Length"] = "1"
	} else if rec.HasLength() {
		header["Upload-Length"] = strconv.FormatInt(rec.Length(), 10)
	}
	if len(rec.MetaDataKeys) > 0 {
		header["Upload-Metadata"] = SerializeMetadataHeader(rec.MetaData())
	}

	HTTPResponse{StatusCode: http.StatusNoContent, Header: header}.writeTo(w)
}

// Patch appends a chunk of bytes to an in-progress upload.
func (h *UnroutedHandler) Patch(w http.ResponseWriter, r *http.Request, id string) {
	cfg := h.cfg.Upload

	if !reUploadID.MatchString(id) {
		h.fail(w, ErrInvalidID)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/offset+octet-stream" {
		h.fail(w, ErrInvalidContentType)
		return
	}

	offsetHeader := r.Header.Get("Upload-Offset")
	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if offsetHeader == "" || err != nil || offset < 0 {
		h.fail(w, ErrInvalidOffset)
		return
	}

	release, err := h.cfg.Locker.Lock(r.Context(), id)
	if err != nil {
		h.sendInternalError(w, err)
		return
	}
	defer release()

	rec, err := h.cfg.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, ErrNotFound)
		return
	}
	if err != nil {
		h.sendInternalError(w, err)
		return
	}

	if rec.UploadOffset != offset {
		h.fail(w, ErrMismatchedOffset)
		return
	}

	if rec.LengthDeferred {
		if newLenHeader := r.Header.Get("Upload-Length"); newLenHeader != "" {
			n, err := strconv.ParseInt(newLenHeader, 10, 64)
			if err != nil || n <= 0 {
				h.fail(w, ErrInvalidUploadLength)
				return
			}
			if cfg.MaxFileSize > 0 && n > cfg.MaxFileSize {
				h.fail(w, ErrMaxSizeExceeded)
				return
			}
			rec.SetLength(n)
		}
	}

	checksumHeader, err := parseOptionalChecksumHeader(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	newOffset, err := h.ingestChunk(w, r, cfg, id, checksumHeader, cfg.MaxRequestSize)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec.UploadOffset = newOffset
	rec.TimeUpdated = time.Now().UTC()
	if err := h.cfg.Store.Update(rec); err != nil {
		h.sendInternalError(w, err)
		return
	}

	if rec.HasLength() && rec.UploadOffset == rec.Length() {
		if h.cfg.Finalizer != nil {
			if err := h.cfg.Finalizer.Finalize(id); err != nil {
				if errors.Is(err, finalize.ErrUnsupportedMedia) {
					h.fail(w, ErrUnsupportedMediaType)
					return
				}
				h.sendInternalError(w, err)
				return
			}
			h.Metrics.incUploadsFinished()
			// Re-read so the response reflects lts_path bookkeeping done
			// by the finalizer (offset is unchanged either way).
			if updated, err := h.cfg.Store.Get(id); err == nil {
				rec = updated
			}
		}
	}

	resp := HTTPResponse{
		StatusCode: http.StatusNoContent,
		Header: HTTPHeader{
			"Tus-Resumable":  ingestconfig.ProtocolVersion,
			"Upload-Offset":  strconv.FormatInt(rec.UploadOffset, 10),
			"Upload-Expires": rec.TimeExpires.Format(http.TimeFormat),
		},
	}
	resp.writeTo(w)
}

// Get streams the upload's bytes: from long-term storage if
// finalized, otherwise from the in-progress .part file.
func (h *UnroutedHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	if !reUploadID.MatchString(id) {
		h.fail(w, ErrInvalidID)
		return
	}

	rec, err := h.cfg.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, ErrNotFound)
		return
	}
	if err != nil {
		h.sendInternalError(w, err)
		return
	}

	path := layout.PartPath(h.cfg.Upload, id)
	if rec.LTSPath != "" {
		path = rec.LTSPath
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		h.fail(w, ErrBinaryMissing)
		return
	}
	if err != nil {
		h.sendInternalError(w, err)
		return
	}
	defer f.Close()

	mimeType, err := mimeclassifier.Classify(path)
	if err == nil {
		w.Header().Set("Content-Type", mimeType)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// Delete removes the record and working directory for id.
func (h *UnroutedHandler) Delete(w http.ResponseWriter, r *http.Request, id string) {
	if !reUploadID.MatchString(id) {
		h.fail(w, ErrInvalidID)
		return
	}

	release, err := h.cfg.Locker.Lock(r.Context(), id)
	if err != nil {
		h.sendInternalError(w, err)
		return
	}
	defer release()

	if _, err := h.cfg.Store.Get(id); errors.Is(err, store.ErrNotFound) {
		h.fail(w, ErrNotFound)
		return
	} else if err != nil {
		h.sendInternalError(w, err)
		return
	}

	if h.cfg.Hooks.PreTerminate != nil {
		if err := h.cfg.Hooks.PreTerminate(id); err != nil {
			h.log.Warn().Err(err).Str("id", id).Msg("pre_terminate hook failed")
		}
	}

	if err := layout.RemoveWorkDir(h.cfg.Upload, id); err != nil {
		h.sendInternalError(w, err)
		return
	}
	if err := h.cfg.Store.Delete(id); err != nil {
		h.sendInternalError(w, err)
		return
	}
	h.Metrics.incUploadsTerminated()

	if h.cfg.Hooks.PostTerminate != nil {
		if err := h.cfg.Hooks.PostTerminate(id); err != nil {
			h.log.Warn().Err(err).Str("id", id).Msg("post_terminate hook failed")
		}
	}

	HTTPResponse{StatusCode: http.StatusNoContent, Header: HTTPHeader{"Tus-Resumable": ingestconfig.ProtocolVersion}}.writeTo(w)
}

// Reap runs the expiration reaper; it is exposed as a GET on the base
// path so an embedder can wire it to a cron-style trigger without a
// separate background worker.
func (h *UnroutedHandler) Reap(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Reaper != nil {
		if _, err := h.cfg.Reaper.Reap(time.Now().UTC()); err != nil {
			h.sendInternalError(w, err)
			return
		}
	}
	HTTPResponse{StatusCode: http.StatusNoContent}.writeTo(w)
}

// parseOptionalChecksumHeader parses Upload-Checksum if present,
// translating a parse failure into the 460 response.
func parseOptionalChecksumHeader(r *http.Request) (*checksum.Header, error) {
	raw := r.Header.Get("Upload-Checksum")
	if raw == "" {
		return nil, nil
	}
	h, err := checksum.ParseHeader(raw)
	if err != nil {
		return nil, ErrChecksumMismatch
	}
	return &h, nil
}

func hasRequestBody(r *http.Request) bool {
	return r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") == "chunked"
}

// ingestChunk streams r's body into the upload's .stream scratch
// file, verifies it against checksumHeader if supplied, and merges it
// into the .part accumulator. It returns the new offset (the .part
// file's new size).
func (h *UnroutedHandler) ingestChunk(w http.ResponseWriter, r *http.Request, cfg ingestconfig.Config, id string, checksumHeader *checksum.Header, maxBodySize int64) (int64, error) {
	streamPath := layout.StreamPath(cfg, id)

	streamFile, err := os.OpenFile(streamPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	body := newBodyReader(w, r, maxBodySize)
	_, copyErr := io.Copy(streamFile, body)
	closeErr := streamFile.Close()
	h.Metrics.incBytesReceived(uint64(body.bytesRead()))

	bodyErr := body.hasError()
	disconnected := errors.Is(bodyErr, errClientDisconnected)

	switch {
	case bodyErr != nil && !disconnected:
		os.Remove(streamPath)
		return 0, bodyErr
	case copyErr != nil && !errors.Is(copyErr, io.EOF) && !disconnected:
		os.Remove(streamPath)
		return 0, copyErr
	case closeErr != nil:
		os.Remove(streamPath)
		return 0, closeErr
	}

	if disconnected && checksumHeader != nil {
		// Reference behavior: discard the scratch rather than verify a
		// chunk we know is incomplete.
		os.Remove(streamPath)
		rec, err := h.cfg.Store.Get(id)
		if err != nil {
			return 0, err
		}
		return rec.UploadOffset, nil
	}

	if checksumHeader != nil {
		if err := checksum.Verify(*checksumHeader, streamPath); err != nil {
			os.Remove(streamPath)
			if errors.Is(err, checksum.ErrMismatch) {
				return 0, ErrChecksumMismatch
			}
			return 0, err
		}
	}

	newOffset, err := appendStreamToPart(cfg, id)
	os.Remove(streamPath)
	if err != nil {
		return 0, err
	}
	return newOffset, nil
}

// appendStreamToPart copies the upload's scratch file onto the end of
// its .part accumulator in fixed-size chunks and returns the
// accumulator's new size.
func appendStreamToPart(cfg ingestconfig.Config, id string) (int64, error) {
	partPath := layout.PartPath(cfg, id)
	streamPath := layout.StreamPath(cfg, id)

	part, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer part.Close()

	stream, err := os.Open(streamPath)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	buf := make([]byte, appendChunkSize)
	if _, err := io.CopyBuffer(part, stream, buf); err != nil {
		return 0, err
	}
	if err := part.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(partPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// absFileURL builds the absolute URL of an upload for the Location
// header, honoring a reverse proxy's X-Forwarded-Proto and
// X-Forwarded-Host headers whenever present. The Forwarded header is
// not read.
func (h *UnroutedHandler) absFileURL(r *http.Request, id string) string {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if fp := r.Header.Get("X-Forwarded-Proto"); fp != "" {
		proto = fp
	}

	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = fh
	}

	return fmt.Sprintf("%s://%s%s%s", proto, host, h.cfg.Upload.BasePath, id)
}
