// Package typeres resolves type names to reflect descriptors across every
// module the host registers, and carries the per-type registration tables
// (constructors, statics, generic method instantiations) that reflection
// alone cannot express.
package typeres
