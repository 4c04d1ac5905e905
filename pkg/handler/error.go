package handler

import "net/http"

// Error is a protocol error with the intent to be sent in the HTTP
// response to the client.
type Error struct {
	ErrorCode    string
	Message      string
	HTTPResponse HTTPResponse
}

func (e Error) Error() string {
	return e.ErrorCode + ": " + e.Message
}

// NewError constructs an Error whose HTTPResponse carries statusCode
// and a plain-text body describing the failure.
func NewError(errCode string, message string, statusCode int) Error {
	return Error{
		ErrorCode: errCode,
		Message:   message,
		HTTPResponse: HTTPResponse{
			StatusCode: statusCode,
			Body:       errCode + ": " + message + "\n",
			Header: HTTPHeader{
				"Content-Type": "text/plain; charset=utf-8",
			},
		},
	}
}

// The error taxonomy from the protocol's validation order; see the
// verb handlers in handler.go for where each is raised.
var (
	ErrInvalidContentType   = NewError("ERR_INVALID_CONTENT_TYPE", "missing or invalid Content-Type header", http.StatusBadRequest)
	ErrInvalidUploadLength  = NewError("ERR_INVALID_UPLOAD_LENGTH", "missing, invalid or ambiguous Upload-Length/Upload-Defer-Length header", http.StatusBadRequest)
	ErrInvalidDeferLength   = NewError("ERR_INVALID_DEFER_LENGTH", "Upload-Defer-Length must be 1", http.StatusBadRequest)
	ErrInvalidOffset        = NewError("ERR_INVALID_OFFSET", "missing or invalid Upload-Offset header", http.StatusBadRequest)
	ErrInvalidConcat        = NewError("ERR_INVALID_CONCAT", "invalid Upload-Concat header", http.StatusBadRequest)
	ErrInvalidMetadata      = NewError("ERR_INVALID_METADATA", "Upload-Metadata is missing required filename/filetype keys", http.StatusBadRequest)
	ErrInvalidMethodOverride = NewError("ERR_INVALID_METHOD_OVERRIDE", "X-HTTP-Method-Override is not a supported verb", http.StatusBadRequest)
	ErrInvalidID            = NewError("ERR_INVALID_ID", "upload id is not well-formed", http.StatusBadRequest)

	ErrMaxSizeExceeded = NewError("ERR_MAX_SIZE_EXCEEDED", "upload length exceeds the configured maximum", http.StatusRequestEntityTooLarge)
	ErrSizeExceeded    = NewError("ERR_UPLOAD_SIZE_EXCEEDED", "request body exceeds the configured maximum", http.StatusRequestEntityTooLarge)

	ErrUnsupportedMediaType = NewError("ERR_UNSUPPORTED_MEDIA_TYPE", "declared or sniffed mime type is not in the allow-list", http.StatusUnsupportedMediaType)

	ErrNotFound      = NewError("ERR_UPLOAD_NOT_FOUND", "upload not found", http.StatusNotFound)
	ErrBinaryMissing = NewError("ERR_BINARY_NOT_FOUND", "upload record exists but its binary is missing", http.StatusNotFound)

	ErrMismatchedOffset = NewError("ERR_MISMATCHED_OFFSET", "Upload-Offset does not match the upload's current offset", http.StatusConflict)

	ErrUploadNotFinished = NewError("ERR_UPLOAD_NOT_FINISHED", "one of the concatenation members is not finished", http.StatusBadRequest)

	// ErrChecksumMismatch is the tus extension's non-standard 460
	// status, used both for a malformed checksum header and for a
	// verification failure.
	ErrChecksumMismatch = NewError("ERR_CHECKSUM_MISMATCH", "checksum of uploaded chunk does not match", 460)
)
