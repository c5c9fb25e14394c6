// Package network creates the per-flock Docker networks used to
// isolate a running flock's containers from every other flock's
// (spec.md §4.3). PlainPool always creates and destroys; CachedPool
// recycles up to a configured size.
package network
