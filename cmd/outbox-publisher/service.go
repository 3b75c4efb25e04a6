package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// topicSource resolves the Pub/Sub topic an aggregate's events go to.
type topicSource interface {
	Ping(context.Context) error
	TopicFor(enums.OutboxAggregateType) string
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type sender interface {
	Publish(context.Context, *gcppubsub.Message) ackResult
}

type ackResult interface {
	Get(context.Context) (string, error)
}

// errPermanent marks failures that a later attempt cannot fix.
var errPermanent = errors.New("permanent publish failure")

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeParked
)

// batchStats counts what one drain pass did.
type batchStats struct {
	Published int
	Retried   int
	Parked    int
}

func (b batchStats) total() int { return b.Published + b.Retried + b.Parked }

type RelayParams struct {
	Outbox config.OutboxConfig
	Logger *logger.Logger
	DB     txRunner
	Topics topicSource
	Store  eventStore
	// Sender overrides the Pub/Sub publisher lookup; tests use it.
	Sender func(topic string) sender
}

// Relay moves committed outbox rows to Pub/Sub. Order and payment events are
// routed by aggregate so payment consumers never see cart or inventory noise.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	topics      topicSource
	store       eventStore
	sender      func(topic string) sender
	senders     map[string]sender
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	}
	if p.Topics.TopicFor(enums.AggregateOrder) == "" {
		return nil, errors.New("domain topic is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		topics:      p.Topics,
		store:       p.Store,
		sender:      p.Sender,
		senders:     map[string]sender{},
		batchSize:   positiveOr(p.Outbox.BatchSize, 50),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, 10),
		poll:        time.Duration(positiveOr(p.Outbox.PollIntervalMS, 500)) * time.Millisecond,
	}
	if r.sender == nil {
		r.sender = func(topic string) sender {
			if pub := p.Topics.Publisher(topic); pub != nil {
				return gcpSender{pub}
			}
			return nil
		}
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run drains the outbox until ctx is cancelled. A full batch is followed by
// another drain straight away; idle and failing passes back off.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox drain failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case stats.total() >= r.batchSize:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}

		if stats.total() > 0 {
			r.logg.Info(r.logg.WithFields(ctx, map[string]any{
				"published": stats.Published,
				"retried":   stats.Retried,
				"parked":    stats.Parked,
			}), "outbox batch relayed")
		}

		if err := sleepCtx(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// drain relays one batch inside a transaction so the row claims, and every
// marker written for them, commit together.
func (r *Relay) drain(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for i := range rows {
			res, err := r.relayOne(ctx, tx, &rows[i])
			if err != nil {
				return err
			}
			switch res {
			case outcomePublished:
				stats.Published++
			case outcomeRetry:
				stats.Retried++
			case outcomeParked:
				stats.Parked++
			}
		}
		return nil
	})
	return stats, err
}

func (r *Relay) relayOne(ctx context.Context, tx *gorm.DB, row *models.OutboxEvent) (outcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outboxId":      row.ID.String(),
		"eventType":     row.EventType,
		"aggregateType": row.AggregateType,
		"aggregateId":   row.AggregateID.String(),
		"attempt":       row.AttemptCount + 1,
	})

	env, err := outbox.DecodeEnvelope(row.Payload)
	if err == nil {
		err = r.send(ctx, row, env)
	} else {
		err = fmt.Errorf("%w: decode envelope: %v", errPermanent, err)
	}

	switch {
	case err == nil:
		if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		return outcomePublished, nil
	case errors.Is(err, errPermanent) || row.AttemptCount+1 >= r.maxAttempts:
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox event parked")
		if err := r.store.MarkTerminalTx(tx, row.ID, err, r.maxAttempts); err != nil {
			return 0, fmt.Errorf("park %s: %w", row.ID, err)
		}
		return outcomeParked, nil
	default:
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed")
		if err := r.store.MarkFailedTx(tx, row.ID, err); err != nil {
			return 0, fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		return outcomeRetry, nil
	}
}

func (r *Relay) send(ctx context.Context, row *models.OutboxEvent, env outbox.PayloadEnvelope) error {
	topic := r.topics.TopicFor(row.AggregateType)
	pub := r.senderFor(topic)
	if pub == nil {
		return fmt.Errorf("%w: no publisher for topic %q", errPermanent, topic)
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	ack := pub.Publish(sendCtx, messageFor(row, env))
	if ack == nil {
		return fmt.Errorf("%w: publisher returned no result", errPermanent)
	}
	_, err := ack.Get(sendCtx)
	return err
}

func (r *Relay) senderFor(topic string) sender {
	if s, ok := r.senders[topic]; ok {
		return s
	}
	s := r.sender(topic)
	if s != nil {
		r.senders[topic] = s
	}
	return s
}

// messageFor carries the routing data as attributes so subscribers can filter
// without decoding the payload.
func messageFor(row *models.OutboxEvent, env outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"schema_version": fmt.Sprint(env.Version),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if env.Actor != nil && env.Actor.UserID != "" {
		attrs["actor_id"] = env.Actor.UserID
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpSender struct {
	pub *gcppubsub.Publisher
}

func (s gcpSender) Publish(ctx context.Context, msg *gcppubsub.Message) ackResult {
	return s.pub.Publish(ctx, msg)
}
