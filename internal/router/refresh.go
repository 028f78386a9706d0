package router

import (
	"context"

	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
)

// RefreshBucket runs a NODE lookup against a random identifier that falls
// inside bucket i, so a bucket nobody has queried into recently still
// discovers live peers. A table with no contacts at all is a benign no-op:
// there is nothing to refresh against yet.
func (r *Router) RefreshBucket(ctx context.Context, i int) error {
	target := kadid.RandomIDInBucket(r.rt.Self(), i)
	_, err := r.LookupID(ctx, target)
	if err == ErrNotConnected {
		return nil
	}
	if err == ErrLookupFailed {
		logging.Logf(logging.WithPrefix(ctx, logging.RouterPrefix), "refresh of bucket %d found no reachable peers", i)
		return nil
	}
	return err
}

// RefreshBucketsBeyondClosest refreshes every populated bucket whose index
// is strictly greater than the lowest populated index. Empty buckets are
// not refreshed by this sweep.
func (r *Router) RefreshBucketsBeyondClosest(ctx context.Context) error {
	indexes := r.rt.Indexes()
	if len(indexes) == 0 {
		return nil
	}
	for _, i := range indexes[1:] {
		if err := r.RefreshBucket(ctx, i); err != nil {
			return err
		}
	}
	return nil
}
