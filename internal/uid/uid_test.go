package uid_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/internal/uid"
)

var reID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewIsWellFormedAndUnique(t *testing.T) {
	require := require.New(t)

	a := uid.New()
	b := uid.New()

	require.Regexp(reID, a)
	require.Regexp(reID, b)
	require.NotEqual(a, b)
}
