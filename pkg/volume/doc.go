// Package volume provides the naming convention and retrying prune
// helper the flock engine uses for request-scoped Docker volumes.
package volume
