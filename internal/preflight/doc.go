// Package preflight checks that the host can run an index store before
// subindex starts writing to it.
//
// The checks cover:
//   - free disk space on the store root's filesystem
//   - write permission in the store root
//   - the open file limit, against the handles a fully cached store keeps open
//
// Use a Checker to run them:
//
//	checker := preflight.New(preflight.WithPartitions(len(partitions)))
//	results := checker.RunAll(ctx, storeRoot)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to continue
//	}
package preflight
