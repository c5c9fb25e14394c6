package types

// Default label keys, kept bit-stable in one file (spec.md §9 design
// notes). Every container, volume and network owned by a flock carries
// RequestLabel; the reconciler and event subscriber depend on it.
const (
	DefaultRequestLabel  = "owt.shepherd.reqid"
	DefaultDeferredLabel = "owt.shepherd.deferred"
	DefaultPoolLabel     = "owt.shepherd.pool"
	DefaultNetworkLabel  = "owt.network.managed"
)

// Labels bundles the (possibly overridden) label keys used by the
// engine, pools, reconciler and event subscriber.
type Labels struct {
	Request  string
	Deferred string
	Pool     string
	Network  string
}

// DefaultLabels returns the bit-stable default label keys.
func DefaultLabels() Labels {
	return Labels{
		Request:  DefaultRequestLabel,
		Deferred: DefaultDeferredLabel,
		Pool:     DefaultPoolLabel,
		Network:  DefaultNetworkLabel,
	}
}
