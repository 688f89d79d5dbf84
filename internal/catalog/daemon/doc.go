// Package daemon runs feed reconciliations on a daily schedule.
//
// # Architecture
//
// The daemon consists of three goroutines:
//
//   - poll loop: checks the clock every PollInterval and fires once when the
//     daily run time (HH:MM) is reached, then schedules the next occurrence
//     strictly after the current time
//   - worker: the only goroutine that calls the reconciler; it receives run
//     requests over an unbuffered channel
//   - feed watcher (optional): debounces fsnotify events on the feed file into
//     run requests
//
// # Skip-if-busy
//
// Every trigger (schedule, startup, feed change, or a manual Trigger call)
// attempts a non-blocking send to the worker. If the worker is in the middle
// of a run the send fails, the trigger is logged at WARN and dropped. Runs
// therefore never overlap and never pile up:
//
//	Idle --trigger--> Running --done/failed--> Idle
//
// A failed run is logged and the worker returns to Idle; the daemon keeps
// scheduling until its context is cancelled.
//
// # Last-run state
//
// After every run the daemon writes a TOML state file (Config.StateFile) with
// the run ID, timestamps, outcome, counts, and failed asset keys:
//
//	run_id = "4f1c..."
//	reason = "schedule"
//	outcome = "partial"
//	inserted = 2
//	...
//
//	[[failed_uploads]]
//	key = "x/beta.png"
//	reason = "asset x/beta.png: upload failed: ..."
//
// ReadState loads it back; the status command prints it.
//
// # Usage
//
//	rec := sync.New(store, assets, sync.Options{})
//
//	config := daemon.DefaultConfig()
//	config.DailyRunTime = "02:30"
//	config.WatchFeed = true
//
//	d, err := daemon.NewWithConfig(rec, "products.xml", config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package daemon
