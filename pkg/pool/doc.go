// Package pool implements the flock admission policies of spec.md
// §4.5: launch-all, fixed-size queueing and persistent preemption.
package pool
