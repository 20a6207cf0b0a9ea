// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/flowboard/internal/logger"
	"github.com/Strob0t/flowboard/internal/port/messagequeue"
)

const (
	streamName       = "FLOWBOARD"
	streamMaxAge     = 7 * 24 * time.Hour
	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
	maxRetries       = 3
	dlqSuffix        = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("flowboard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: messagequeue.StreamSubjects,
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject. The request ID in ctx, if
// any, travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Messages failing schema validation go straight to <subject>.dlq; messages
// whose handler keeps failing land there after maxRetries redeliveries.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxRetries + 2,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := context.Background()
	if id := msg.Headers().Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		slog.Warn("invalid message", "subject", msg.Subject(), "error", err)
		q.moveToDLQ(ctx, msg, err)
		return
	}

	if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
		attempts := retryCount(msg)
		if attempts >= maxRetries {
			slog.Error("message handler failed, retries exhausted", "subject", msg.Subject(), "attempts", attempts, "error", err)
			q.moveToDLQ(ctx, msg, err)
			return
		}
		slog.Warn("message handler failed", "subject", msg.Subject(), "attempt", attempts+1, "error", err)
		if nakErr := msg.NakWithDelay(time.Duration(attempts+1) * time.Second); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("nats ack failed", "error", ackErr)
	}
}

// moveToDLQ republishes msg under the dead-letter subject and acks the original.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg, cause error) {
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: nats.Header{}}
	for k, vals := range msg.Headers() {
		for _, v := range vals {
			dlq.Header.Add(k, v)
		}
	}
	dlq.Header.Set("Error", cause.Error())
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("dlq publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// retryCount is the number of failed attempts so far: the larger of the
// Retry-Count header and the server's redelivery count.
func retryCount(msg jetstream.Msg) int {
	n, _ := strconv.Atoi(msg.Headers().Get(headerRetryCount))
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
		if delivered := int(md.NumDelivered) - 1; delivered > n {
			n = delivered
		}
	}
	return n
}

func consumerName(subject string) string {
	r := strings.NewReplacer(".", "-", "*", "any", ">", "all")
	return "flowboard-" + r.Replace(subject)
}

// KeyValue returns the named KV bucket, creating it with the given TTL.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains subscriptions and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
