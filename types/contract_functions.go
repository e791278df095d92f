// Package types contains the data exchanged across the engine boundary:
// invocation results, events, transaction envelopes and receipts, plus the
// host function names shared with WebAssembly contracts.
package types

// Host functions exported to WebAssembly contracts in the "env" module.
//
// IMPORTANT: contracts import these by name. Renaming any of them breaks
// every deployed wasm contract that links against it.
//
// All values crossing the boundary are i64 except field indexes, which are
// i32 positions in the contract's persistent fields sorted by name.
const (
	// HostModule is the import module name
	HostModule = "env"
	// HostFieldGet (idx i32) -> i64 reads a persistent numeric field, 0 when unset
	HostFieldGet = "field_get"
	// HostFieldSet (idx i32, value i64) stages a write to a persistent field
	HostFieldSet = "field_set"
	// HostRevert (code i32) aborts the invocation
	HostRevert = "revert"
	// HostBlockHeight () -> i64, 0 for pure methods
	HostBlockHeight = "block_height"
)
