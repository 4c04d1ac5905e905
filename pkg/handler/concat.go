package handler

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ingestconfig "github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/layout"
	"github.com/ingestd/ingestd/pkg/mimeclassifier"
	"github.com/ingestd/ingestd/pkg/store"
)

// postFinal handles a POST carrying Upload-Concat: final;<urls>. It
// parses the member id list, creates the final record, and — if every
// member is already complete — assembles their bytes into long-term
// storage immediately.
func (h *UnroutedHandler) postFinal(w http.ResponseWriter, r *http.Request, concatHeader string) {
	memberIDs, err := parseFinalConcat(concatHeader, h.cfg.Upload.BasePath)
	if err != nil {
		h.fail(w, err)
		return
	}

	meta := ParseMetadataHeader(r.Header.Get("Upload-Metadata"))
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

	members := make([]store.Record, 0, len(memberIDs))
	allComplete := true
	for _, memberID := range memberIDs {
		member, err := h.cfg.Store.Get(memberID)
		if errors.Is(err, store.ErrNotFound) {
			h.fail(w, ErrNotFound)
			return
		}
		if err != nil {
			h.sendInternalError(w, err)
			return
		}
		if !member.Complete {
			allComplete = false
		}
		members = append(members, member)
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
		ID:              id,
		ConcatMemberIDs: memberIDs,
		TimeCreated:     now,
		TimeUpdated:     now,
		TimeExpires:     now.Add(h.cfg.Upload.Expiration()),
	}
	rec.SetMetaData(meta)

	if err := layout.EnsureWorkDir(h.cfg.Upload, id); err != nil {
		h.sendInternalError(w, err)
		return
	}
	if err := h.cfg.Store.Create(rec); err != nil {
		h.sendInternalError(w, err)
		return
	}
	h.Metrics.incUploadsCreated()

	header := HTTPHeader{
		"Tus-Resumable": ingestconfig.ProtocolVersion,
		"Location":      h.absFileURL(r, id),
	}

	if !allComplete {
		header["Tus-Extension"] = "concatenation-unfinished"
		HTTPResponse{StatusCode: http.StatusCreated, Header: header}.writeTo(w)
		return
	}

	if err := h.assembleFinal(h.cfg.Upload, rec, members); err != nil {
		h.sendInternalError(w, err)
		return
	}
	h.Metrics.incUploadsFinished()

	HTTPResponse{StatusCode: http.StatusCreated, Header: header}.writeTo(w)
}

// assembleFinal concatenates each member's .part file, in order, into
// rec's long-term destination and marks rec complete.
func (h *UnroutedHandler) assembleFinal(cfg ingestconfig.Config, rec store.Record, members []store.Record) error {
	filename, _ := rec.MetaData().Get("filename")
	filetype, _ := rec.MetaData().Get("filetype")
	group := mimeclassifier.Group(filetype)
	ext := mimeclassifier.Extension(filetype)

	ltsPath, err := layout.LongTermPath(cfg, filename, group, ext)
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(ltsPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	var total int64
	for _, member := range members {
		src, err := os.Open(layout.PartPath(cfg, member.ID))
		if err != nil {
			return err
		}
		n, copyErr := io.Copy(dst, src)
		src.Close()
		if copyErr != nil {
			return copyErr
		}
		total += n
	}
	if err := dst.Close(); err != nil {
		return err
	}

	rec.Complete = true
	rec.LTSPath = ltsPath
	rec.UploadOffset = total
	rec.SetLength(total)
	rec.TimeUpdated = time.Now().UTC()
	return h.cfg.Store.Update(rec)
}

// parseFinalConcat extracts the ordered member ids from a
// "final;<url> <url> ..." Upload-Concat header by stripping basePath
// from each whitespace-separated URL or path.
func parseFinalConcat(header string, basePath string) ([]string, error) {
	const prefix = "final;"
	rest := strings.TrimPrefix(header, prefix)

	var ids []string
	for _, raw := range strings.Fields(rest) {
		_, id, ok := strings.Cut(raw, basePath)
		if !ok {
			return nil, ErrInvalidConcat
		}
		id = strings.Trim(id, "/")
		if id == "" {
			return nil, ErrInvalidConcat
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, ErrInvalidConcat
	}
	return ids, nil
}
