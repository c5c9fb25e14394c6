// Package engine implements the Flock Engine described in spec.md
// §4.4: request, start, start_deferred_container, stop and remove.
package engine
