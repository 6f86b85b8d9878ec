package location

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

// ChannelSource forwards fixes written to a Go channel, for embedding the
// engine in a host that already owns the platform location API
type ChannelSource struct {
	in     <-chan Fix
	gate   gate
	logger logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewChannelSource creates a source reading from in
func NewChannelSource(in <-chan Fix, bus *pubsub.PubSub, logger logging.Logger) *ChannelSource {
	return &ChannelSource{
		in:     in,
		gate:   gate{bus: bus},
		logger: logging.ForComponent(logger, "location.channel"),
	}
}

// Start begins forwarding
func (s *ChannelSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx)
	return nil
}

func (s *ChannelSource) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.in:
			if !ok {
				s.logger.Info("fix channel closed")
				return
			}
			if _, err := s.gate.offer(f, time.Now()); err != nil {
				s.logger.Warn("fix rejected", logging.Location(f.Lat, f.Lon), logging.Error(err))
			}
		}
	}
}

// Stop ends forwarding and waits for the reader to exit
func (s *ChannelSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}
