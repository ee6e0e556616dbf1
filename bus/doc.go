// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	sub, _ := b.Subscribe("heartbeat.pod-1")
//	b.Publish("heartbeat.pod-1", data)
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// With NATS:
//
//	cfg := bus.DefaultNATSConfig()
//	cfg.URL = "nats://nats:4222"
//	b, err := bus.NewNATSBus(cfg)
//
// NATSBus.OnShutdown drains the connection so queued heartbeats reach the
// server before the process exits.
package bus
