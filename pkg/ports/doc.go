// Package ports defines the contracts between the model controller core
// and its collaborators: operation handlers and their capability tags,
// result sinks, proxy controllers, configuration persisters, and the
// registry view handlers read from. Implementations live in
// internal/runtime, pkg/registry, pkg/persistence and internal/protocol.
package ports
