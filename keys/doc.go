// Package keys manages operator keys and manifest signatures.
//
// Operators hold one Ed25519 root seed. Role keys (admin, committer, applier,
// emergency) are derived from it deterministically, and each key maps to a
// dispatcher actor address via AddressFromPublicKey.
//
// Manifests are signed over their digest with Ed25519 or, for post-quantum
// deployments, Dilithium3.
package keys
