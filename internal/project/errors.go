package project

import (
	"fmt"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
)

// NoSuchProjectError is returned when the configured project does not exist
// remotely. It matches asana.ErrNotFound.
type NoSuchProjectError struct {
	ID int64
}

func (e *NoSuchProjectError) Error() string {
	return fmt.Sprintf("no project with id %d", e.ID)
}

func (e *NoSuchProjectError) Unwrap() error {
	return asana.ErrNotFound
}
