package handler

import (
	"net/http"

	"github.com/ingestd/ingestd/pkg/store"
)

// Hooks are the callbacks the embedder supplies to the handler. The
// handler invokes only Naming, PreTerminate and PostTerminate. It never
// calls OnUploadComplete, PreExpire, PostExpire, PreComplete or
// PostComplete; the hooks that run on finalization and expiration are
// the ones given to finalize.New and reaper.New.
type Hooks struct {
	// Naming assigns the id for a newly created upload. r is the
	// creating request, meta its parsed Upload-Metadata. Required.
	Naming func(r *http.Request, meta store.MetaData) (string, error)

	// OnUploadComplete is not invoked by the handler; see
	// finalize.Hooks.OnUploadComplete.
	OnUploadComplete func(ltsPath string, meta store.MetaData) error

	PreExpire    func(id string) error
	PostExpire   func(id string) error
	PreComplete  func(id string) error
	PostComplete func(id string) error
	PreTerminate func(id string) error
	PostTerminate func(id string) error
}
