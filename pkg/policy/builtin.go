package policy

// BuiltinPolicies returns the policies compiled into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectExistingPolicy(),
		entityNamingPolicy(),
	}
}

// protectExistingPolicy mirrors the reconciler's non-destruction guard at
// the policy layer: resources the host merely adopted are never deleted
// through it.
func protectExistingPolicy() Policy {
	return Policy{
		Name:        "protect-existing",
		Description: "Denies delete for resources that were adopted rather than created here",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package cloudmoor.policies.existing

import rego.v1

deny contains violation if {
	input.op == "delete"
	input.existing == true
	violation := {
		"message": sprintf("entity %s/%s was adopted, not created here; refusing to delete the underlying resource", [input.kind, input.name]),
		"severity": "error",
		"entity": input.name,
	}
}
`,
	}
}

// entityNamingPolicy enforces the common vendor naming envelope so create
// calls fail at the gate instead of at the vendor.
func entityNamingPolicy() Policy {
	return Policy{
		Name:        "entity-naming",
		Description: "Enforces lowercase alphanumeric-and-hyphen entity names of 3 to 63 characters",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming"},
		Rego: `package cloudmoor.policies.naming

import rego.v1

deny contains violation if {
	input.op == "create"
	not regex.match("^[a-z0-9][a-z0-9-]*[a-z0-9]$", input.name)
	violation := {
		"message": sprintf("entity name %q should be lowercase alphanumeric with hyphens", [input.name]),
		"severity": "warning",
		"entity": input.name,
	}
}

deny contains violation if {
	input.op == "create"
	count(input.name) < 3
	violation := {
		"message": sprintf("entity name %q is shorter than 3 characters", [input.name]),
		"severity": "warning",
		"entity": input.name,
	}
}

deny contains violation if {
	input.op == "create"
	count(input.name) > 63
	violation := {
		"message": sprintf("entity name %q is longer than 63 characters", [input.name]),
		"severity": "warning",
		"entity": input.name,
	}
}
`,
	}
}
