// Package heartbeat announces a server instance's status to its peers.
//
// # Overview
//
// An instance periodically broadcasts its status, in-flight request count
// and load. When a shutdown begins the status flips to draining and is
// announced at once, so load balancers and dashboards can steer traffic
// away before the listener closes. The last heartbeat carries stopped.
//
//	serving ──(signal)──> draining ──(teardown)──> stopped
//
// # Usage
//
//	sender, _ := heartbeat.NewBusSender(heartbeat.SenderConfig{
//	    Bus:        b,
//	    InstanceID: host,
//	    Interval:   5 * time.Second,
//	    Sample: func(hb *heartbeat.Heartbeat) {
//	        hb.InFlight = handler.InFlight()
//	    },
//	})
//	sender.Start(ctx)
//	coord.RegisterWithPhase("heartbeat", sender, shutdown.PhaseAnnounce)
//
// # Subject Convention
//
// Heartbeats are published to: heartbeat.<instance-id>
package heartbeat
