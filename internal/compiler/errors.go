package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/rules"
	"github.com/all-of-us/cdr-deid/internal/schema"
)

var (
	// ErrCompose is matched by every ComposeError.
	ErrCompose = errors.New("compose error")

	// ErrNotCompiled is returned by GetPlan for a table with no cached plan.
	ErrNotCompiled = errors.New("not compiled")
)

// ComposeError reports a plan whose fragments cannot be combined soundly,
// such as union branches with misaligned fields. No plan is produced.
type ComposeError struct {
	Key      ir.TableKey
	Problems []string
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose %s: %s", e.Key, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrCompose) true for any ComposeError.
func (e *ComposeError) Is(target error) bool {
	return target == ErrCompose
}

// Error kinds reported per table by batch runs and the CLI.
const (
	KindSchemaNotFound     = "SchemaNotFound"
	KindCatalogQueryFailed = "CatalogQueryFailed"
	KindCategoryUndefined  = "CategoryUndefined"
	KindCompose            = "ComposeError"
	KindNotCompiled        = "NotCompiled"
	KindInvalidOptions     = "InvalidOptions"
	KindCanceled           = "Canceled"
	KindInternal           = "Internal"
)

// ErrorKind maps err to its kind. It returns "" for a nil error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, schema.ErrSchemaNotFound):
		return KindSchemaNotFound
	case errors.Is(err, rules.ErrCategoryUndefined):
		return KindCategoryUndefined
	case errors.Is(err, catalog.ErrCatalogQueryFailed):
		return KindCatalogQueryFailed
	case errors.Is(err, ErrCompose):
		return KindCompose
	case errors.Is(err, ErrNotCompiled):
		return KindNotCompiled
	case errors.Is(err, ErrInvalidOptions):
		return KindInvalidOptions
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
