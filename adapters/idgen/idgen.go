// Package idgen generates record, job and device identifiers.
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xancrypt/xancrypt/ports"
)

// Device issues random v4 UUIDs for the deviceId cookie. They carry no
// timestamp, so a cookie does not reveal when it was issued.
type Device struct{}

func (Device) New() string {
	return uuid.NewString()
}

// Record issues v7 UUIDs for usage and history records. They sort by
// creation time, which keeps primary key inserts append-only.
type Record struct{}

func (Record) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// Job names conversion jobs <unix millis>-<12 hex>. Staging directories and
// archive names are derived from it.
type Job struct {
	clock ports.Clock
}

func NewJob(clock ports.Clock) *Job {
	return &Job{clock: clock}
}

func (j *Job) New() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", j.clock.Now().UnixMilli(), suffix)
}

// Sequential yields prefix1, prefix2, ... for deterministic tests.
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = Device{}
	_ ports.IDGenerator = Record{}
	_ ports.IDGenerator = (*Job)(nil)
	_ ports.IDGenerator = (*Sequential)(nil)
)
