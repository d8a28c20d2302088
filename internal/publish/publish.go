// Package publish hands records to the transport, falling back to the
// outbound buffer when the session is down or a send is rejected. A
// rejected send is degraded mode, never an error.
package publish

import (
	"context"
	"log/slog"

	"github.com/nugget/telenode/internal/connwatch"
	"github.com/nugget/telenode/internal/metrics"
	"github.com/nugget/telenode/internal/outbox"
)

// Outcome reports what happened to a published record.
type Outcome int

const (
	// Sent means the transport accepted the record.
	Sent Outcome = iota
	// Buffered means the record is queued for a later flush.
	Buffered
)

// String returns "sent" or "buffered".
func (o Outcome) String() string {
	if o == Sent {
		return "sent"
	}
	return "buffered"
}

// Link is the slice of the connectivity controller the publisher uses.
// [connwatch.Controller] satisfies it.
type Link interface {
	State() connwatch.LinkState
	Pending() int
	Flush(ctx context.Context) int
	Send(ctx context.Context, r outbox.Record) bool
	Enqueue(r outbox.Record)
}

// Publisher routes records to the link.
type Publisher struct {
	link    Link
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Publisher. logger and m may be nil.
func New(link Link, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{link: link, logger: logger, metrics: m}
}

// Publish sends r now if the session is up, otherwise buffers it. It
// never retries; the controller's next flush does that.
//
// When older records are still queued, they are flushed first so r
// cannot overtake them. If they do not all drain, r joins the queue
// behind them. In that case the retried send is the backlog head, not r.
func (p *Publisher) Publish(ctx context.Context, r outbox.Record) Outcome {
	out := p.route(ctx, r)
	p.metrics.Published(string(r.Kind), out.String())
	return out
}

func (p *Publisher) route(ctx context.Context, r outbox.Record) Outcome {
	if p.link.State() != connwatch.SessionUp {
		p.link.Enqueue(r)
		return Buffered
	}

	if p.link.Pending() > 0 {
		p.link.Flush(ctx)
		if p.link.Pending() > 0 {
			p.link.Enqueue(r)
			return Buffered
		}
	}

	if p.link.Send(ctx, r) {
		return Sent
	}

	p.logger.Debug("publish rejected, buffering",
		"kind", r.Kind,
		"topic", r.Topic,
	)
	p.link.Enqueue(r)
	return Buffered
}
