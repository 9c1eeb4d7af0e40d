// Package config loads declarative entity definitions from CUE files.
//
// # Overview
//
// Operators describe the resources they want as CUE entities:
//
//	entities: {
//		photos: {
//			kind: "bucket"
//			definition: {
//				name:   "photos"
//				region: "eu-west-1"
//			}
//		}
//	}
//
// Parse unifies all source files into one CUE value, validates each entity
// against the embedded schema and struct tags, and returns the entities for
// the host to reconcile. Definitions pass through untouched, including hosts
// that deliver array fields in the flattened name!index encoding; the
// reconciliation core owns reconstruction.
//
// A definition may carry a "starlark" key holding a small script. The script
// runs with the rest of the definition bound as `definition` and its globals
// are merged back in, giving operators a bounded escape hatch for procedural
// values without growing the CUE surface.
package config
