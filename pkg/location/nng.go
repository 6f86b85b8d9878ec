package location

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

const nngRecvDeadline = 250 * time.Millisecond

// NNGSource subscribes to a nanomsg PUB feed of fixes. Each message is the
// topic prefix followed by a JSON encoded Fix.
type NNGSource struct {
	addr   string
	topic  []byte
	gate   gate
	logger logging.Logger

	mu      sync.Mutex
	sock    mangos.Socket
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	received atomic.Int64
	rejected atomic.Int64
}

// NewNNGSource creates a source dialing addr, e.g. tcp://127.0.0.1:7450
func NewNNGSource(addr, topic string, bus *pubsub.PubSub, logger logging.Logger) *NNGSource {
	return &NNGSource{
		addr:   addr,
		topic:  []byte(topic),
		gate:   gate{bus: bus},
		logger: logging.ForComponent(logger, "location.nng").With(logging.String("addr", addr)),
	}
}

// Start opens the SUB socket. The dial is asynchronous so the publisher may
// come up later.
func (s *NNGSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	sock, err := sub.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, s.topic); err != nil {
		sock.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", s.topic, err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, nngRecvDeadline); err != nil {
		sock.Close()
		return fmt.Errorf("failed to set recv deadline: %w", err)
	}
	if err := sock.DialOptions(s.addr, map[string]any{mangos.OptionDialAsynch: true}); err != nil {
		sock.Close()
		return fmt.Errorf("failed to dial %s: %w", s.addr, err)
	}

	s.sock = sock
	s.stopCh = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.receiveLoop(sock, s.stopCh)

	s.logger.Info("location feed subscribed", logging.String("topic", string(s.topic)))
	return nil
}

func (s *NNGSource) receiveLoop(sock mangos.Socket, stopCh chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		msg, err := sock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrRecvTimeout) {
				continue
			}
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			s.logger.Warn("receive failed", logging.Error(err))
			continue
		}
		s.handle(msg)
	}
}

func (s *NNGSource) handle(msg []byte) {
	s.received.Add(1)

	payload := bytes.TrimPrefix(msg, s.topic)
	var f Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("undecodable fix", logging.Error(err))
		return
	}
	if _, err := s.gate.offer(f, time.Now()); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("fix rejected", logging.Location(f.Lat, f.Lon), logging.Error(err))
	}
}

// Stats returns how many messages arrived and how many were rejected
func (s *NNGSource) Stats() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

// Stop closes the socket and waits for the receive loop
func (s *NNGSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	err := sock.Close()
	s.wg.Wait()
	s.logger.Info("location feed closed")
	return err
}

// EncodeFix builds a feed message for topic
func EncodeFix(topic string, f Fix) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append([]byte(topic), payload...), nil
}
