package repo

import (
	"errors"
	"fmt"
)

// ErrCorrupt is wrapped when stored content cannot be decoded.
var ErrCorrupt = errors.New("mailbox content is corrupt")

// PersistenceError reports a failed mailbox operation. Items involved in a
// failed write must stay in memory.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap tags err with the failed operation; nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
