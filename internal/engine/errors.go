package engine

import (
	"errors"
	"fmt"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

// RuntimeError is an error raised by the batch runner itself rather than
// by compiling a table.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Table identifies the affected table, if any.
	Table ir.TableKey

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeListTables indicates the dataset's tables could not be listed.
	ErrCodeListTables RuntimeErrorCode = "LIST_TABLES"

	// ErrCodeBeginRun indicates the run could not be registered.
	ErrCodeBeginRun RuntimeErrorCode = "BEGIN_RUN"

	// ErrCodeRegistryInsert indicates a plan or failure could not be registered.
	ErrCodeRegistryInsert RuntimeErrorCode = "REGISTRY_INSERT"
)

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.RunID != "" && e.Table.Table != "":
		msg = fmt.Sprintf("%s (run=%s, table=%s)", msg, e.RunID, e.Table)
	case e.RunID != "":
		msg = fmt.Sprintf("%s (run=%s)", msg, e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRegistryError reports whether err is a failed registry write.
// Uses errors.As to handle wrapped errors.
func IsRegistryError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRegistryInsert || re.Code == ErrCodeBeginRun
	}
	return false
}

func newRegistryError(runID string, key ir.TableKey, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRegistryInsert,
		Message: "register result",
		RunID:   runID,
		Table:   key,
		Err:     err,
	}
}
