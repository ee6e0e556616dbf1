package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/podwork/bus"
	"github.com/vinayprograms/podwork/logging"
)

// Sampler fills the live fields of a heartbeat just before it is published.
type Sampler func(hb *Heartbeat)

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// InstanceID is the unique identifier for this instance.
	InstanceID string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// Sample, if set, is called for every heartbeat.
	Sample Sampler

	// Logger receives publish failures. Default: discard.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.InstanceID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 5 * time.Second,
	}
}

// BusSender sends heartbeats over a message bus.
type BusSender struct {
	bus        bus.MessageBus
	instanceID string
	interval   time.Duration
	sample     Sampler
	logger     *logging.Logger

	mu       sync.RWMutex
	status   string
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusSender creates a new heartbeat sender in the serving status.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &BusSender{
		bus:        cfg.Bus,
		instanceID: cfg.InstanceID,
		interval:   interval,
		sample:     cfg.Sample,
		logger:     logger.WithComponent("heartbeat"),
		status:     StatusServing,
		metadata:   make(map[string]string),
	}, nil
}

// Start begins sending heartbeats at the configured interval. The first
// heartbeat is sent immediately.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *BusSender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *BusSender) beat() {
	if err := s.Send(); err != nil {
		s.logger.Warn("heartbeat_publish_failed", logging.Fields{"error": err.Error()})
	}
}

// Send publishes one heartbeat now.
func (s *BusSender) Send() error {
	hb := s.Build()
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	return s.bus.Publish(hb.Subject(), data)
}

// Build creates a heartbeat with the current state.
func (s *BusSender) Build() *Heartbeat {
	s.mu.RLock()
	hb := &Heartbeat{
		InstanceID: s.instanceID,
		Timestamp:  time.Now(),
		Status:     s.status,
	}
	if len(s.metadata) > 0 {
		hb.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			hb.Metadata[k] = v
		}
	}
	s.mu.RUnlock()

	if s.sample != nil {
		s.sample(hb)
	}
	if hb.Load < 0 {
		hb.Load = 0
	}
	if hb.Load > 1 {
		hb.Load = 1
	}
	return hb
}

// SetStatus updates the status included in heartbeats. Once the sender
// reports StatusStopped the status no longer changes.
func (s *BusSender) SetStatus(status string) {
	s.setStatus(status)
}

func (s *BusSender) setStatus(status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return false
	}
	s.status = status
	return true
}

// Status returns the current status.
func (s *BusSender) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetMetadata updates a metadata field.
func (s *BusSender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Drain switches to the draining status and announces it immediately.
// It does nothing after OnShutdown has published the stopped heartbeat.
func (s *BusSender) Drain() {
	if !s.setStatus(StatusDraining) {
		return
	}
	s.beat()
}

// Stop stops sending heartbeats.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// OnShutdown stops the loop and publishes a final stopped heartbeat.
func (s *BusSender) OnShutdown(ctx context.Context) error {
	if err := s.Stop(); err != nil && err != ErrNotStarted {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.SetStatus(StatusStopped)
	return s.Send()
}

// InstanceID returns the sender's instance ID.
func (s *BusSender) InstanceID() string {
	return s.instanceID
}
