package arc

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so tests are deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// EntityUUID derives a stable entity UUID from a name, so the same name
// always maps to the same archive.
func EntityUUID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("arc:"+name)).String()
}
