package arc

import "time"

// Operation is one recorded run of a mutating operation.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Entity     string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// History records archive operations.
type History interface {
	CreateOperation(operation, parameters, entity string) (*Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)
	MaxOperationID() (int64, error)
	CheckMigrations() error
	BackupTo(path string) error
	Close() error
}
