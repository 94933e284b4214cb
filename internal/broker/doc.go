// Package broker orchestrates the marrow agent components.
//
// # Overview
//
// The broker package is the central coordinator of the marrow agent. It owns
// and manages all major components: the pinned object registry, the heap
// snapshot manager, the address materializer, the reflection surface, the
// event bridge, and the loopback HTTP server that exposes them to a
// controller process.
//
// # Broker Struct
//
// The Broker struct is the main entry point:
//
//	type Broker struct {
//	    config     *config.Config
//	    pins       *pinned.Registry
//	    types      *typeres.Resolver
//	    heapMgr    *heap.Manager
//	    resolver   *resolve.Materializer
//	    surface    *invoke.Surface
//	    bridge     *events.Bridge
//	    httpServer *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The broker exposes one path per operation in handlers.go:
//
//   - GET  /ping - Liveness probe with pin count
//   - POST /die - Acknowledge and shut down the agent
//   - POST /register_client - Register a controller, issue auth token
//   - POST /unregister_client - Remove a controller registration
//   - GET  /heap - Enumerate live objects, optional type filter
//   - GET  /types/resolve - Resolve a type name to its descriptor
//   - GET  /types/dump - Describe fields, methods, and events of a type
//   - POST /object - Materialize and pin the object at an address
//   - POST /create_object - Construct a new instance
//   - POST /create_array - Construct a new array
//   - POST /invoke - Call a method (instance, static, or generic)
//   - POST /get_field, /set_field - Field access
//   - POST /get_item - Element access by index or key
//   - POST /unpin - Release a handle
//   - POST /batch/members - Fetch several member paths in one round trip
//   - POST /batch/collection - Evaluate paths across a whole collection
//   - POST /event/subscribe, /event/unsubscribe - Event forwarding
//
// # Error Mapping
//
// Errors carry a JSON body and a status derived from the error kind:
// unknown handles and types are 404, collected objects are 410, moved or
// ambiguous resolutions are 409, resolution failures are 400, and
// invocation faults (the target itself failed) are 500. Handler panics are
// isolated and reported with the stack trace.
//
// # Lifecycle
//
// Start the broker:
//
//	b, err := broker.New(broker.Options{Config: cfg, Types: types, HeapSource: src})
//	ctx, cancel := context.WithCancel(context.Background())
//	go b.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Shutdown drains in-flight requests, detaches event registrations,
// disposes the heap snapshot, and releases every pinned object.
package broker
