package ir

// Version constants for the plan format and compiler.
const (
	// PlanVersion is the plan fingerprint schema version.
	PlanVersion = "1"

	// CompilerVersion is the deid compiler version.
	CompilerVersion = "0.1.0"
)
