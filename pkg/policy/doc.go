// Package policy gates reconciliation operations behind Rego policies.
//
// # Overview
//
// Before the host performs an operation, it evaluates the loaded policies
// against an Input describing the entity, the operation, and whether
// the resource was adopted rather than created. Policies are Rego modules
// whose deny rules yield violations; a violation at error severity blocks
// the operation, warnings surface without blocking.
//
// A built-in policy denies delete for adopted resources, mirroring the
// reconciler's own non-destruction guard. Operators extend the set with
// .rego files or YAML bundles, optionally hot-reloaded.
package policy
