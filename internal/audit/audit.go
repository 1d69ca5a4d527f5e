package audit

import (
	"context"
	"strings"
	"time"

	"geominer/siren/pkg/logging"
)

const (
	queueSize      = 64
	publishTimeout = 5 * time.Second
)

// Appender is the event log surface audit records are written to
type Appender interface {
	Publish(ctx context.Context, topic string, fields map[string]string) (string, error)
}

// Publisher records connection lifecycle events to an audit topic. Records
// are queued and written by a background worker; a full queue drops the
// record rather than slowing the connection path.
type Publisher struct {
	appender Appender
	topic    string
	logger   logging.Logger
	queue    chan map[string]string
}

// NewPublisher creates an audit publisher. Start its worker with Run.
func NewPublisher(appender Appender, topic string, logger logging.Logger) *Publisher {
	return &Publisher{
		appender: appender,
		topic:    topic,
		logger:   logger,
		queue:    make(chan map[string]string, queueSize),
	}
}

// Run drains the queue until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fields := <-p.queue:
			writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if _, err := p.appender.Publish(writeCtx, p.topic, fields); err != nil {
				p.logger.WithError(err).Warn("Audit record dropped")
			}
			cancel()
		}
	}
}

// ConnectionOpened records an admitted connection
func (p *Publisher) ConnectionOpened(subject string, roles []string, remoteAddr string) {
	p.record(map[string]string{
		"event":       "connection_opened",
		"subject":     subject,
		"roles":       strings.Join(roles, ","),
		"remote_addr": remoteAddr,
	})
}

// ConnectionClosed records a closed connection
func (p *Publisher) ConnectionClosed(subject string) {
	p.record(map[string]string{
		"event":   "connection_closed",
		"subject": subject,
	})
}

// ConnectionRejected records a connection turned away at the gate
func (p *Publisher) ConnectionRejected(remoteAddr, reason string) {
	p.record(map[string]string{
		"event":       "connection_rejected",
		"remote_addr": remoteAddr,
		"reason":      reason,
	})
}

func (p *Publisher) record(fields map[string]string) {
	fields["recorded_at"] = time.Now().UTC().Format(time.RFC3339)
	select {
	case p.queue <- fields:
	default:
		p.logger.WithField("event", fields["event"]).Warn("Audit queue full, record dropped")
	}
}
