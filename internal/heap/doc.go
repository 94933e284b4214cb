// Package heap owns the diagnostic heap snapshot used to enumerate live
// objects and re-derive references from raw addresses.
package heap
