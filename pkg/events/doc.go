// Package events implements the Container Event Subscriber described
// in spec.md §4.6: a single long-running reader of the container
// runtime's event stream that routes die/start notifications to the
// pool that owns each container.
package events
