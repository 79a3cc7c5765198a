// Package watcher runs the scheduled maintenance of an index manager.
//
// A Scheduler calls PerformScheduledTasks once at start and then every
// PollInterval. When the partition directories can be watched with
// fsnotify, a change to a cache invalidation marker also triggers a run
// after DebounceWindow, so notifications from other processes are picked up
// well before the next tick. Where fsnotify is unavailable (network mounts,
// some container volumes) the scheduler falls back to the ticker alone.
//
// Usage:
//
//	s, err := watcher.NewScheduler(mgr, dirs, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
//	go func() {
//	    for err := range s.Errors() {
//	        log.Printf("scheduled run failed: %v", err)
//	    }
//	}()
//
//	return s.Run(ctx)
package watcher
