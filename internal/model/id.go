package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a record id of the form EXOT-<base36 millis><8 random hex>.
// The random half comes from a v4 UUID so ids are never reused.
func NewID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper("EXOT-" + ts + rnd)
}
