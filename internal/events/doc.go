// Package events forwards host-side event firings to controller callback
// endpoints, with per-event-name ordering and liveness-based cleanup.
package events
