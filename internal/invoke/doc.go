// Package invoke is the reflection invocation surface of the broker: field
// and property access, method invocation with generic and goroutine-affinity
// handling, construction, collection indexing, and batch member fetch.
//
// Every operation takes wire-encoded arguments (inlined primitives or pinned
// handles) and produces wire-encoded results; non-primitive results are
// pinned so the controller receives a fresh handle.
package invoke
