// Package volume names and prunes the Docker volumes the flock engine
// creates for a running request (spec.md §4.4).
package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/runtime"
)

const (
	pruneRetries  = 3
	pruneInterval = time.Second
)

// Name builds the canonical volume name for one flock-spec volume
// within a request (spec.md §4.4: "vol-<vol-name>-<reqid>").
func Name(volName, reqid string) string {
	return fmt.Sprintf("vol-%s-%s", volName, reqid)
}

// CreateAll creates one Docker volume per entry in vols, labelling each
// with the request label so the reconciler can find them later.
func CreateAll(ctx context.Context, rt runtime.Runtime, vols map[string]string, reqid, requestLabelKey string) error {
	for volName := range vols {
		name := Name(volName, reqid)
		if err := rt.CreateVolume(ctx, name, map[string]string{requestLabelKey: reqid}); err != nil {
			return fmt.Errorf("create volume %s: %w", name, err)
		}
	}
	return nil
}

// PruneForRequest removes every volume carrying reqid's request label,
// retrying a few times since Docker refuses to remove a volume still
// referenced by a container it hasn't finished tearing down (spec.md
// §7: "Volume pruning retries three times with 1-second spacing").
// want is the number of volumes expected to disappear (FlockRequest's
// NumVolumes); PruneForRequest stops retrying once that many are gone.
func PruneForRequest(ctx context.Context, rt runtime.Runtime, reqid, requestLabelKey string, want int) {
	filters := map[string]string{requestLabelKey: reqid}
	removedTotal := 0

	for attempt := 0; attempt < pruneRetries; attempt++ {
		removed, err := rt.PruneVolumes(ctx, filters)
		if err != nil {
			log.WithReqID(reqid).Warn().Err(err).Msg("prune volumes failed")
		} else {
			removedTotal += len(removed)
		}
		if removedTotal >= want {
			return
		}
		if attempt < pruneRetries-1 {
			time.Sleep(pruneInterval)
		}
	}

	if want > 0 && removedTotal < want {
		log.WithReqID(reqid).Warn().Int("removed", removedTotal).Int("want", want).
			Msg("volume prune did not remove the expected number of volumes; reconciler will retry")
	}
}
