// Package shutdown coordinates graceful termination of the work server.
//
// # Overview
//
// The Coordinator owns a single process-wide flag. The flag starts false
// and flips to true exactly once, when the first SIGTERM or SIGINT arrives
// (or when Begin is called directly). It is never reset. Request handlers
// read it through the Gate interface before admitting work, and running
// work loops read it at every checkpoint, so the transition is seen by all
// goroutines within one iteration of their loops.
//
// After the flip, the coordinator optionally waits DrainDelay and then runs
// the registered teardown handlers by phase.
//
//	┌────────────┐  SIGTERM/SIGINT  ┌───────────────────────────────┐
//	│   signal   │ ───────────────> │ Begin: RUNNING → SHUTTING_DOWN│
//	└────────────┘                  └───────────────┬───────────────┘
//	                                                │ DrainDelay
//	                                                ▼
//	          http-server (10) → heartbeat (20) → telemetry (30) → bus (40)
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.Config{
//	    DefaultTimeout: 30 * time.Second,
//	    DrainDelay:     5 * time.Second,
//	    Logger:         logger,
//	})
//	coord.RegisterWithPhase("http-server", srv, shutdown.PhaseFrontend)
//	coord.HandleSignals()
//
//	<-coord.Done()
//
// Handlers in the same phase run concurrently; lower phases finish first.
// A panicking handler is reported as a PANIC error and does not stop the
// remaining phases when ContinueOnError is set.
package shutdown
