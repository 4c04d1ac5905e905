// Package store implements the upload metadata store: a durable
// id -> Record map with create/get/update/delete operations and a
// query for expired records. See pkg/layout for where the records and
// their associated binary files live on disk.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Update when no record exists for
// the given id.
var ErrNotFound = errors.New("store: record not found")

// ErrAlreadyExists is returned by Create when a record already exists
// for the given id.
var ErrAlreadyExists = errors.New("store: record already exists")

// MetaData is the ordered, client-supplied Upload-Metadata map. Ordering
// as received is preserved via the Keys slice.
type MetaData struct {
	Keys   []string
	Values map[string]string
}

// NewMetaData builds a MetaData from keys in the order given.
func NewMetaData(keys []string, values map[string]string) MetaData {
	return MetaData{Keys: keys, Values: values}
}

// Get returns the value for key and whether it was present.
func (m MetaData) Get(key string) (string, bool) {
	v, ok := m.Values[key]
	return v, ok
}

// Record is one entry in the metadata store, corresponding exactly to
// the UploadRecord described by the spec's data model.
type Record struct {
	ID string `json:"id"`

	// UploadLength is the declared total size in bytes. A nil pointer
	// means the length is absent (only valid while LengthDeferred).
	UploadLength *int64 `json:"upload_length,omitempty"`
	// UploadOffset is the number of bytes durably stored so far; it
	// always equals the byte length of the .part file.
	UploadOffset int64 `json:"upload_offset"`
	// LengthDeferred is true until a later PATCH supplies UploadLength.
	LengthDeferred bool `json:"length_deferred"`

	// IsConcatenationPartial marks this record as a member of some
	// future final upload. Partial uploads are never finalized.
	IsConcatenationPartial bool `json:"is_concatenation_partial"`
	// ConcatMemberIDs is set iff this record is a concatenation final;
	// it holds the member ids in concatenation order.
	ConcatMemberIDs []string `json:"concat_member_ids,omitempty"`

	MetaDataKeys   []string          `json:"metadata_keys,omitempty"`
	MetaDataValues map[string]string `json:"metadata_values,omitempty"`

	// Complete becomes true once UploadOffset == UploadLength and
	// finalization (or the partial-stop path) has occurred.
	Complete bool `json:"complete"`
	// LTSPath is the long-term path assigned at finalization; empty for
	// partials and in-progress uploads.
	LTSPath string `json:"lts_path,omitempty"`

	TimeCreated time.Time `json:"time_created"`
	TimeUpdated time.Time `json:"time_updated"`
	TimeExpires time.Time `json:"time_expires"`
}

// MetaData reconstructs the ordered metadata map carried by this
// record.
func (r Record) MetaData() MetaData {
	return NewMetaData(r.MetaDataKeys, r.MetaDataValues)
}

// SetMetaData replaces the record's metadata, preserving key order.
func (r *Record) SetMetaData(m MetaData) {
	r.MetaDataKeys = m.Keys
	r.MetaDataValues = m.Values
}

// HasLength reports whether UploadLength is known.
func (r Record) HasLength() bool {
	return r.UploadLength != nil
}

// Length returns the declared upload length, or 0 if deferred.
func (r Record) Length() int64 {
	if r.UploadLength == nil {
		return 0
	}
	return *r.UploadLength
}

// SetLength sets the declared upload length and clears LengthDeferred.
func (r *Record) SetLength(n int64) {
	r.UploadLength = &n
	r.LengthDeferred = false
}

// IsFinal reports whether this record is a concatenation final.
func (r Record) IsFinal() bool {
	return len(r.ConcatMemberIDs) > 0
}
