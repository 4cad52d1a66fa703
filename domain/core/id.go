package core

import (
	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	TaskID  ID
	BatchID ID
)

func (id TaskID) String() string  { return ID(id).String() }
func (id BatchID) String() string { return ID(id).String() }

// NewTaskID creates an identifier for one orchestration task.
func NewTaskID() TaskID { return TaskID(NewID()) }

// NewBatchID creates an identifier for a batch of tasks.
func NewBatchID() BatchID { return BatchID(NewID()) }
