// Package reconcile implements the lifecycle reconciliation core shared by
// every cloudmoor integration.
//
// # Overview
//
// An integration maps a declarative definition to calls against a vendor API.
// The hard part is not the field mapping but the lifecycle: drive an external,
// eventually-consistent, slow-to-provision resource to the desired state
// exactly once, resumably across restarts, without ever destroying a resource
// cloudmoor did not create. This package owns that lifecycle:
//
//  1. Reconstruct - expand flattened array encodings in the definition
//  2. Adopt - create-or-adopt guard for name conflicts on create
//  3. Check - bounded readiness probing with fatal/transient separation
//  4. Wait - terminal polling of vendor task handles
//  5. Teardown - phased disable/wait/delete for vendors that refuse to
//     delete an active resource
//
// # Core Domain Types
//
//   - Definition: desired-state input, immutable for one reconciliation call
//   - State: the single durable record handed back to the host; carries
//     vendor identifiers, a mirrored status, and the Existing safety flag
//   - Op: closed enumeration of lifecycle operations
//   - Integration: the interface a catalog entry implements
//
// # Driving model
//
// Each reconciliation call is synchronous and stateless between invocations.
// The host decides when to call which operation and persists the returned
// State. The only in-call waiting is the bounded deployment wait inside
// teardown and the task waiter, both of which honor context cancellation.
//
// # The Existing flag
//
// State.Existing means "cloudmoor did not create this resource". It is set by
// the adoption guard and is immutable once true: the reconciler snapshots it
// before dispatching to integration code and restores it afterwards, so no
// integration code path can flip it back to false. Delete on an Existing
// state clears local identifiers and never contacts the vendor.
package reconcile
