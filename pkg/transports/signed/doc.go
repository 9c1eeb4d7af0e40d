// Package signed provides the authenticated HTTP transport that integrations
// use to reach vendor APIs, together with vendor error-envelope decoding.
//
// The Transport interface is the seam between the reconciliation core and
// the outside world: integrations issue requests through it, tests script it
// with fakes, and the host supplies the concrete Signer (session-key HMAC,
// bearer token, SigV4-style canonicalization) without the core knowing which.
//
// Non-2xx responses are decoded through DecodeError, which understands both
// envelope dialects the catalog's vendors speak: the JSON family
// ({"message": ..., "__type": ...}) and the XML family
// (<Error><Code>...<Message>...). The resulting errors carry the operation
// name, the HTTP status code, and the vendor message verbatim.
package signed
