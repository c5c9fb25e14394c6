// Package reconciler implements the garbage-collection sweep of
// spec.md §4.7: containers, volumes and networks carrying a request
// label whose FlockRequest record no longer exists are removed.
package reconciler
