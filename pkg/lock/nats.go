package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stackforge/pkg/protocol"
)

// DefaultProbeTimeout bounds a liveness request.
const DefaultProbeTimeout = 5 * time.Second

// NATSProber asks engines over NATS request/reply whether they are alive.
type NATSProber struct {
	conn    *nats.Conn
	from    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewNATSProber creates a prober sending requests on behalf of engine from.
func NewNATSProber(conn *nats.Conn, from string, timeout time.Duration, logger zerolog.Logger) *NATSProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &NATSProber{
		conn:    conn,
		from:    from,
		timeout: timeout,
		logger:  logger.With().Str("component", "engine-prober").Logger(),
	}
}

// Alive implements Prober. An engine that does not answer within the timeout,
// or has no subscriber at all, is dead. If the request cannot be sent the
// engine is reported alive so its lock is left alone.
func (p *NATSProber) Alive(ctx context.Context, engineID string) bool {
	req, err := protocol.EncodeListening(&protocol.ListeningRequest{EngineID: engineID, From: p.from})
	if err != nil {
		p.logger.Warn().Err(err).Str("engine_id", engineID).Msg("Cannot build liveness request")
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.conn.RequestWithContext(ctx, protocol.EngineSubject(engineID), req)
	switch {
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		p.logger.Debug().Str("engine_id", engineID).Msg("Engine did not answer")
		return false
	case err != nil:
		p.logger.Warn().Err(err).Str("engine_id", engineID).Msg("Liveness request failed")
		return true
	}

	reply, err := protocol.DecodeAlive(msg.Data)
	if err != nil {
		p.logger.Warn().Err(err).Str("engine_id", engineID).Msg("Invalid liveness reply")
		return true
	}
	return reply.EngineID == engineID
}

// Listener answers liveness requests addressed to one engine.
type Listener struct {
	engineID  string
	startedAt time.Time
	version   string
	logger    zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewListener creates a listener for engineID.
func NewListener(engineID, version string, logger zerolog.Logger) *Listener {
	return &Listener{
		engineID:  engineID,
		startedAt: time.Now().UTC(),
		version:   version,
		logger:    logger.With().Str("component", "engine-listener").Str("engine_id", engineID).Logger(),
	}
}

// Start subscribes to the engine's subject.
func (l *Listener) Start(conn *nats.Conn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return fmt.Errorf("listener for engine %s already started", l.engineID)
	}

	sub, err := conn.Subscribe(protocol.EngineSubject(l.engineID), func(msg *nats.Msg) {
		if err := msg.Respond(l.handle(msg.Data)); err != nil {
			l.logger.Error().Err(err).Msg("Failed to answer liveness request")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", protocol.EngineSubject(l.engineID), err)
	}
	l.sub = sub
	l.logger.Info().Str("subject", sub.Subject).Msg("Engine listener started")
	return nil
}

// Stop unsubscribes.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return nil
	}
	err := l.sub.Unsubscribe()
	l.sub = nil
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	l.logger.Info().Msg("Engine listener stopped")
	return nil
}

// handle builds the reply to one request.
func (l *Listener) handle(data []byte) []byte {
	req, err := protocol.DecodeListening(data)
	if err == nil && req.EngineID != l.engineID {
		err = fmt.Errorf("request for engine %s reached engine %s", req.EngineID, l.engineID)
	}
	if err != nil {
		l.logger.Warn().Err(err).Msg("Rejecting liveness request")
		reply, encErr := protocol.EncodeError(&protocol.ErrorMessage{Code: "BAD_REQUEST", Message: err.Error()})
		if encErr != nil {
			return nil
		}
		return reply
	}

	l.logger.Debug().Str("from", req.From).Msg("Answering liveness request")
	reply, err := protocol.EncodeAlive(&protocol.AliveReply{
		EngineID:  l.engineID,
		PID:       os.Getpid(),
		Version:   l.version,
		StartedAt: l.startedAt,
	})
	if err != nil {
		return nil
	}
	return reply
}
