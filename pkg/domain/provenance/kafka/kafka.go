// Package kafka publishes provenance events to a kafka topic.
//
// The topic plays the role of an exchange: every event goes to it, and
// consumers select events by the routing key carried as message key and header.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/provenance"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const HeaderRoutingKey = "routing-key"

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type publisher struct {
	writer        Writer
	topic         string
	routingPrefix string
	logger        zerolog.Logger
}

type Option func(*publisher)

func WithLogger(l zerolog.Logger) Option {
	return func(p *publisher) {
		p.logger = l
	}
}

// New returns a publisher writing to topic.
func New(w Writer, topic string, routingPrefix string, options ...Option) provenance.Publisher {
	p := &publisher{writer: w, topic: topic, routingPrefix: routingPrefix, logger: zerolog.Nop()}
	for _, o := range options {
		o(p)
	}
	return p
}

// NewWriter returns a synchronous writer which waits for every in-sync replica.
//
// The writer does not retry by itself: a failed publish is a failed saga step.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

func (p *publisher) Publish(ctx context.Context, e provenance.Event) error {
	key := e.RoutingKey(p.routingPrefix)
	body, err := json.Marshal(e)
	if err != nil {
		return xerr.NewPublishError(key, err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderRoutingKey, Value: []byte(key)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("routing_key", key).Str("event", e.ID).Msg("publish failed")
		return xerr.NewPublishError(key, err)
	}
	p.logger.Debug().Str("routing_key", key).Str("event", e.ID).Str("entity", e.Entity.ID).Msg("published")
	return nil
}
