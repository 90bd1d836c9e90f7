// Package orchestrator runs one logical deployment against several
// independent networks and reports where they diverge.
//
// A deployment is planned once (addresses predicted and cross-checked on
// every network, routes and proofs built) and then executed per network:
// stage, commit, apply, wait out the activation delay, activate. Networks
// fail independently; a failure on one is recorded and never touches the
// results of another. Waiting is resumable: every step re-reads network
// state, so a plan loaded from the Journal can be executed again after a
// restart without resetting a commitment's delay window.
package orchestrator
