package specstore

import "strings"

// InvalidSpec aggregates every validation failure found across a
// Reload, rather than failing on the first one, so an operator fixing
// a spec directory sees every problem in one pass.
type InvalidSpec struct {
	Errors []string
}

func (e *InvalidSpec) Error() string {
	return "invalid flock spec:\n  " + strings.Join(e.Errors, "\n  ")
}
