// Package specstore loads and validates FlockSpec YAML files (spec.md
// §4.1). See specstore.go for the loader and errors.go for InvalidSpec.
package specstore
