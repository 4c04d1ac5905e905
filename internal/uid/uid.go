// Package uid generates the 128-bit hex upload ids ingestd assigns to
// new uploads.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random 32-character lowercase hex id, matching the
// id format the protocol engine's validator expects.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
