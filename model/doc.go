// Package model defines the stable boundary types shared by the proof tree, the
// deployment store, the dispatcher and the orchestrator.
//
// Fixed-width values (Selector, Address, Hash) serialize as 0x-prefixed hex in
// JSON, YAML and TOML. DispatcherState is the persisted snapshot owned by the
// dispatcher; nothing outside package dispatch should mutate one.
package model
