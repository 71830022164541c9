package cli

import (
	"errors"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/config"
	"github.com/all-of-us/cdr-deid/internal/engine"
	"github.com/all-of-us/cdr-deid/internal/store"
)

// Error codes for CLI output
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Config file unreadable or invalid
	ErrCodeWarehouse   = "E003" // Warehouse connection failed
	ErrCodeRegistry    = "E004" // Registry open/read/write failed
	ErrCodeNotFound    = "E005" // Nothing registered for the request
	ErrCodeUsage       = "E006" // Missing dataset or conflicting flags
	ErrCodeWriteFailed = "E007" // File write error

	// Compile error codes (one per compiler error kind)
	ErrCodeSchemaNotFound     = "E201"
	ErrCodeCatalogQueryFailed = "E202"
	ErrCodeCategoryUndefined  = "E203"
	ErrCodeCompose            = "E204"
	ErrCodeNotCompiled        = "E205"
	ErrCodeInvalidOptions     = "E206"
	ErrCodeCanceled           = "E207"
	ErrCodeInternal           = "E299"
)

var kindCodes = map[string]string{
	compiler.KindSchemaNotFound:     ErrCodeSchemaNotFound,
	compiler.KindCatalogQueryFailed: ErrCodeCatalogQueryFailed,
	compiler.KindCategoryUndefined:  ErrCodeCategoryUndefined,
	compiler.KindCompose:            ErrCodeCompose,
	compiler.KindNotCompiled:        ErrCodeNotCompiled,
	compiler.KindInvalidOptions:     ErrCodeInvalidOptions,
	compiler.KindCanceled:           ErrCodeCanceled,
	compiler.KindInternal:           ErrCodeInternal,
}

// codeFor maps an error to its CLI error code.
func codeFor(err error) string {
	var le *config.LoadError
	switch {
	case errors.As(err, &le):
		return ErrCodeConfig
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	case engine.IsRegistryError(err):
		return ErrCodeRegistry
	}
	if code, ok := kindCodes[compiler.ErrorKind(err)]; ok {
		return code
	}
	return ErrCodeGeneric
}
