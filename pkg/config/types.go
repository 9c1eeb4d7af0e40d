package config

import (
	"fmt"
	"time"
)

// Entity is one declared resource: a kind from the integration catalog, a
// name unique within that kind, and the desired-state definition handed to
// the reconciler.
type Entity struct {
	// Kind selects the integration (e.g. "bucket", "cdn").
	Kind string `json:"kind" validate:"required,alphanum"`

	// Name identifies the entity within its kind.
	Name string `json:"name" validate:"required"`

	// Definition is the desired state, passed to the reconciler verbatim.
	Definition map[string]any `json:"definition" validate:"required"`

	// DependsOn lists entities that must be reconciled first, as
	// "kind/name" references.
	DependsOn []string `json:"depends_on,omitempty"`

	// Labels organize entities for selection.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations carry additional metadata.
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ParseResult is the outcome of parsing one or more CUE sources. Parse
// collects recoverable problems in Errors rather than failing fast, so an
// operator sees every diagnostic in one run.
type ParseResult struct {
	// Entities are the successfully decoded entities.
	Entities []Entity `json:"entities"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when parsing happened.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists validation problems with location information.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether parsing produced no errors.
func (pr *ParseResult) Valid() bool {
	return len(pr.Errors) == 0
}

// ValidationError is one diagnostic with source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number, 1-indexed.
	Line int `json:"line,omitempty"`

	// Column is the column number, 1-indexed.
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g. "entities.photos").
	Path string `json:"path,omitempty"`

	// Message is the diagnostic text.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}
