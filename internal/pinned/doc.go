// Package pinned keeps strong references to host objects on behalf of
// controllers, mapping opaque handles to live references.
package pinned
