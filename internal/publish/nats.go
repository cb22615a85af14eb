package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"sentiment-engine/internal/domain"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const subjectPrefix = "sentiment"

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

var connectNATS = func(url string, opts ...nats.Option) (natsConn, error) {
	return nats.Connect(url, opts...)
}

// NATSPublisher fans live updates and batch notifications out on
// sentiment.<PAIR>.<type> subjects.
type NATSPublisher struct {
	conn   natsConn
	tracer trace.Tracer
}

// Connect dials url and keeps reconnecting in the background.
func Connect(tracer trace.Tracer, url, clientName string) (*NATSPublisher, error) {
	conn, err := connectNATS(url,
		nats.Name(clientName),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected err=%v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected url=%s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: conn, tracer: tracer}, nil
}

// Subject builds the subject for pair and kind. Characters NATS treats as
// token separators or wildcards are replaced with underscores.
func Subject(pair, kind string) string {
	clean := strings.NewReplacer(".", "_", "/", "_", " ", "_", "*", "_", ">", "_")
	return subjectPrefix + "." + clean.Replace(strings.ToUpper(pair)) + "." + clean.Replace(strings.ToLower(kind))
}

// OnStreamMessage publishes a parsed live update. Failures are logged.
func (p *NATSPublisher) OnStreamMessage(msg domain.StreamMessage) {
	if err := p.publish(context.Background(), Subject(msg.Pair, string(msg.Type)), msg); err != nil {
		log.Printf("nats: publish failed type=%s pair=%s err=%v", msg.Type, msg.Pair, err)
	}
}

func (p *NATSPublisher) Notify(ctx context.Context, n domain.BatchNotification) error {
	return p.publish(ctx, Subject(n.Pair, "notification"), n)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v any) error {
	_, span := p.tracer.Start(ctx, "publish.nats")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	data, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
