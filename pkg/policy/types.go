package policy

import "time"

// Severity is the weight of a policy violation.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning surfaces without blocking the operation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"
)

// Policy is one Rego policy with its metadata.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Rego is the policy source. Deny rules produce violations.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity when a violation carries none.
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`

	// Enabled gates evaluation.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags organize policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Bundle is a named collection of policies loaded from one YAML document.
type Bundle struct {
	// Name identifies the bundle.
	Name string `json:"name" yaml:"name"`

	// Version is the bundle version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Policies are the bundle's policies.
	Policies []Policy `json:"policies" yaml:"policies"`
}

// Input is the document policies evaluate against: one operation on one
// entity.
type Input struct {
	// Kind is the integration kind (e.g. "bucket").
	Kind string `json:"kind"`

	// Name is the entity name.
	Name string `json:"name"`

	// Op is the operation being attempted (create, update, delete,
	// check-readiness, or an action name).
	Op string `json:"op"`

	// Existing reports whether the resource was adopted rather than
	// created by this host.
	Existing bool `json:"existing"`

	// Definition is the desired state being applied.
	Definition map[string]any `json:"definition,omitempty"`
}

// Violation is one policy denial.
type Violation struct {
	// Policy names the originating policy.
	Policy string `json:"policy"`

	// Entity identifies the affected entity.
	Entity string `json:"entity,omitempty"`

	// Message is the human-readable denial.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all policies for one operation.
type Result struct {
	// Allowed is false when any violation is at error severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
