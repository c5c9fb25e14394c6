// Package coordstore implements the shared coordination store
// described in spec.md §4.2. See store.go for the full API.
package coordstore
