package testing

import (
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/types"
)

// NewTestLogger creates a logger that writes through testing.T, so records
// appear next to the test that produced them and only on failure or -v.
func NewTestLogger(t testing.TB) types.Logger {
	return logging.NewSlog(slogt.New(t, slogt.Text()))
}
