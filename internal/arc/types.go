package arc

import (
	"errors"
	"time"
)

// Generation selectors. A non-negative value is a literal generation id.
const (
	AllGenerations       = -1
	SucceededGenerations = -2
	FailedGenerations    = -3
	LastGeneration       = -4
)

// NoGeneration marks the absence of a generation, e.g. a FULL generation's
// parent. It is distinct from every selector.
const NoGeneration = -5

var (
	// ErrNotFound is returned by a ContentStore when a key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoArchive is returned when an entity has no catalog in the store.
	ErrNoArchive = errors.New("no archive available")

	// ErrGenerationNotFound is returned when a generation id is not in the catalog.
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrNoGeneration is returned when a selector matches no generation.
	ErrNoGeneration = errors.New("no generation available")

	// ErrMixedSelector is returned when a selector sentinel is combined with other ids.
	ErrMixedSelector = errors.New("generation selector must be the sole element of the request")

	// ErrMultipleGenerations is returned when a multi-generation selector is used where one id is required.
	ErrMultipleGenerations = errors.New("multiple generations not allowed")

	// ErrReadOnly is returned when a mutating operation is attempted on a manager opened for reading.
	ErrReadOnly = errors.New("archive opened read-only")

	// ErrProfileInvalid is returned when a generation profile fails validation.
	ErrProfileInvalid = errors.New("generation profile is invalid")

	// ErrNotSucceeded is returned when an operation requires a succeeded generation.
	ErrNotSucceeded = errors.New("generation is not succeeded")
)

// EntityType is the kind of protected unit.
type EntityType string

const (
	VirtualMachine EntityType = "vm"
	VirtualDisk    EntityType = "disk"
	Group          EntityType = "group"
)

// Entity is a protected unit identified by a stable UUID.
type Entity struct {
	UUID string     `json:"uuid"`
	Name string     `json:"name"`
	Type EntityType `json:"type"`
}

func (e Entity) String() string {
	if e.Name == "" {
		return string(e.Type) + ":" + e.UUID
	}
	return string(e.Type) + ":" + e.Name + "(" + e.UUID + ")"
}

// Generation is one catalog entry.
type Generation struct {
	ID                   int        `json:"genId"`
	Timestamp            time.Time  `json:"timestamp"`
	BackupMode           BackupMode `json:"backupMode"`
	PreviousGenerationID int        `json:"previousGenerationId"`
	Succeeded            bool       `json:"succeeded"`
	NumberOfDisks        int        `json:"numberOfDisks"`
}

// IsDependent reports whether the generation depends on a parent generation.
func (g Generation) IsDependent() bool {
	return g.PreviousGenerationID >= 0
}

// DependencyInfo describes one generation's position in the dependency graph.
// It is derived from the catalog and never stored.
type DependencyInfo struct {
	GenerationID          int
	Exists                bool
	BackupMode            BackupMode
	DependsOnGenerationID int
	DependingGenerationID int
}

// IsDependingOn reports whether the generation has a parent.
func (d DependencyInfo) IsDependingOn() bool {
	return d.DependsOnGenerationID >= 0
}

// HasDependent reports whether another generation depends on this one.
func (d DependencyInfo) HasDependent() bool {
	return d.DependingGenerationID >= 0
}
