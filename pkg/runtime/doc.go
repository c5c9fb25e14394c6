// Package runtime talks to the container runtime backing the flock
// engine. DockerRuntime drives a real Docker Engine API endpoint; Fake
// is a deterministic in-memory stand-in for tests.
package runtime
