package app

// Operation tracks a CLI operation that may mutate the archive.
// Operations are created in memory with ID=0. Only archive-mutating commands
// persist them (giving them an auto-increment ID from the history database).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Entity     string
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail records that the operation did not complete successfully.
func (op *Operation) Fail() {
	op.Status = "error"
}
