// Package mirror publishes every event fired on a router to NATS.
//
// Each event is published as the codec's JSON document (not base64) on
// <prefix>.<event name>, with characters that NATS treats specially in
// subjects replaced by underscores.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/effekt/internal/codec"
	"github.com/rickgao/effekt/internal/relay"
	"github.com/rickgao/effekt/internal/router"
)

// Publisher sends raw messages. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Extension is a router.Extension that mirrors events to a Publisher.
type Extension struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
	nc     *nats.Conn

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a mirror extension on an existing publisher.
func New(pub Publisher, prefix string, logger *slog.Logger) *Extension {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extension{
		pub:    pub,
		prefix: strings.Trim(prefix, "."),
		logger: logger.With("component", "mirror"),
	}
}

// Connect dials NATS and returns an extension publishing through it.
func Connect(url, prefix string, logger *slog.Logger) (*Extension, error) {
	nc, err := nats.Connect(url, nats.Name("effekt-mirror"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	ext := New(nc, prefix, logger)
	ext.nc = nc
	ext.logger.Info("nats connected", "url", url, "prefix", ext.prefix)
	return ext, nil
}

// OnEvent implements router.Extension. Publish failures are logged.
func (e *Extension) OnEvent(ctx context.Context, name string, payload router.Payload) {
	data, err := codec.Marshal(name, payload)
	if err != nil {
		e.failed.Add(1)
		e.logger.Warn("mirror encode failed", "event", name, "error", err)
		return
	}

	subject := Subject(e.prefix, name)
	if err := e.pub.Publish(subject, data); err != nil {
		e.failed.Add(1)
		e.logger.Warn("mirror publish failed", "subject", subject, "error", err)
		return
	}
	e.published.Add(1)

	if origin, ok := relay.RelayedBy(ctx); ok {
		e.logger.Debug("mirrored relayed event", "subject", subject, "client", origin)
	}
}

// Published returns the number of successfully published events.
func (e *Extension) Published() uint64 {
	return e.published.Load()
}

// Failed returns the number of events that could not be published.
func (e *Extension) Failed() uint64 {
	return e.failed.Load()
}

// Close drains the NATS connection opened by Connect.
func (e *Extension) Close() error {
	if e.nc == nil {
		return nil
	}
	return e.nc.Drain()
}

// Subject builds the NATS subject for an event name.
func Subject(prefix, name string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, name)
	if token == "" {
		token = "_"
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}
