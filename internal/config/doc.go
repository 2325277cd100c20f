// Package config loads the sidecar configuration tree and exposes it through
// a safe optional-field traversal.
//
// # Overview
//
// The configuration is produced elsewhere (by the control plane) and handed
// to the sidecar as a file. Its schema is open: the sidecar only reads a
// handful of paths and must ignore everything else. Instead of decoding into
// a fixed struct, the file is decoded into a generic tree and every read goes
// through [Node.Get]:
//
//	scheme := tree.Get("Spec", "Probes", "LivenessProbes", 0, "httpGet", "scheme")
//	if scheme.Truthy() { ... }
//
// A missing link at any depth yields the absent node. Reading an absent node
// returns the caller's default; it never panics and never returns an error.
//
// # Formats
//
// [LoadFile] accepts JSON (.json), YAML (.yaml, .yml) and HCL (.hcl). HCL
// files use top-level attributes with object and tuple expressions:
//
//	Inbound = {
//	  TrafficMatches = { "8080" = { Port = 8080 } }
//	}
//	Spec = {
//	  Probes = { LivenessProbes = [{ httpGet = { scheme = "HTTP", port = 8080 } }] }
//	}
//
// # Truthiness
//
// [Node.Truthy] follows the semantics the control plane relies on: absent,
// null, false, zero and the empty string are false; every other value,
// including empty lists and objects, is true.
package config
