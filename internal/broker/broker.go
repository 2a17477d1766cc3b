// Package broker adapts the gateway's four logical pub/sub channels (spec §4.6) onto NATS core pub/sub. Delivery is
// at-most-once per node: a node that misses events while restarting relies on reconnect-time sync (spec §4.9) to
// heal affected recipients, never on broker-level redelivery.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/imrelay/gateway/internal/gwerrors"
)

// ErrUnavailable classifies as DependencyError (spec §7): publish/subscribe failures degrade best-effort rather than
// crash the handling goroutine.
var ErrUnavailable = fmt.Errorf("broker unavailable")

func init() {
	gwerrors.Register(ErrUnavailable, gwerrors.KindDependencyError)
}

// Broker publishes cluster events and dispatches inbound ones to the fan-out engine (C8). One Broker per process;
// safe for concurrent Publish calls from many handler goroutines.
type Broker struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS with reconnection enabled — the gateway treats a disconnected broker as a degraded dependency,
// not a fatal error, so reconnection attempts run indefinitely in the background.
func Connect(url string, timeout time.Duration, logger zerolog.Logger) (*Broker, error) {
	b := &Broker{logger: logger}

	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("broker disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("broker reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("broker error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	b.conn = conn
	return b, nil
}

// PublishChat publishes a ChatEvent to ChannelMessages.
func (b *Broker) PublishChat(evt ChatEvent) error {
	return b.publish(ChannelMessages, kindChat, evt)
}

// PublishTyping publishes a TypingEvent to ChannelTyping.
func (b *Broker) PublishTyping(evt TypingEvent) error {
	return b.publish(ChannelTyping, kindTyping, evt)
}

// PublishRead publishes a ReadEvent to ChannelReadStatus.
func (b *Broker) PublishRead(evt ReadEvent) error {
	return b.publish(ChannelReadStatus, kindRead, evt)
}

// PublishRecall publishes a RecallEvent to ChannelRecall.
func (b *Broker) PublishRecall(evt RecallEvent) error {
	return b.publish(ChannelRecall, kindRecall, evt)
}

func (b *Broker) publish(ch Channel, k kind, data any) error {
	raw, err := encodeEnvelope(k, data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if b == nil || b.conn == nil {
		return ErrUnavailable
	}
	if err := b.conn.Publish(ch.subject(), raw); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Handlers groups the fan-out engine's callbacks for each event kind. A nil field means that channel's events are
// decoded but not dispatched, which only happens in tests.
type Handlers struct {
	OnChat   func(ChatEvent)
	OnTyping func(TypingEvent)
	OnRead   func(ReadEvent)
	OnRecall func(RecallEvent)
}

// SubscribeAll subscribes to all four channels and dispatches decoded events to h. Every node subscribes, including
// the node that published the event (spec §3 "consumed by every node including the publisher").
func (b *Broker) SubscribeAll(h Handlers) error {
	subs := []struct {
		ch     Channel
		decode func([]byte) error
	}{
		{ChannelMessages, func(raw []byte) error { return decodeAndDispatch(raw, kindChat, h.OnChat) }},
		{ChannelTyping, func(raw []byte) error { return decodeAndDispatch(raw, kindTyping, h.OnTyping) }},
		{ChannelReadStatus, func(raw []byte) error { return decodeAndDispatch(raw, kindRead, h.OnRead) }},
		{ChannelRecall, func(raw []byte) error { return decodeAndDispatch(raw, kindRecall, h.OnRecall) }},
	}

	for _, s := range subs {
		subject := s.ch.subject()
		decode := s.decode
		_, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			if err := decode(msg.Data); err != nil {
				b.logger.Error().Err(err).Str("subject", subject).Msg("failed to decode broker event")
			}
		})
		if err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, subject, err)
		}
	}

	return nil
}

// decodeAndDispatch is generic over the four event struct types so SubscribeAll doesn't repeat the
// envelope-then-payload unmarshal for each channel.
func decodeAndDispatch[T any](raw []byte, want kind, handler func(T)) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Kind != want {
		return fmt.Errorf("unexpected event kind %q on channel for %q", env.Kind, want)
	}
	if handler == nil {
		return nil
	}
	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	handler(data)
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (b *Broker) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains subscriptions and closes the connection, used during graceful shutdown.
func (b *Broker) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}
