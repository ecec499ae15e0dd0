package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/util"
)

type Config struct {
	Exchange string
	Backoff  util.Backoff
	// Timeout bounds each broker round-trip.
	Timeout time.Duration
}

// Publisher drains the effects of committed ledger transitions. A publish
// that still fails after retrying is parked in the outbox for the Relay.
type Publisher struct {
	broker domain.Broker
	dedup  domain.Deduplicator
	outbox domain.OutboxRepository
	cfg    Config
	log    *util.Logger
}

func New(broker domain.Broker, dedup domain.Deduplicator, outbox domain.OutboxRepository, cfg Config, log *util.Logger) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Publisher{broker: broker, dedup: dedup, outbox: outbox, cfg: cfg, log: log}
}

var _ domain.EffectPublisher = (*Publisher)(nil)

// Drain publishes effects in order. It detaches from ctx cancellation so a
// client hanging up does not abandon side effects of a committed write. The
// returned error joins every effect that was lost: not published and not
// parked in the outbox. Parked effects are not errors.
func (p *Publisher) Drain(ctx context.Context, effects []domain.Effect) error {
	ctx = context.WithoutCancel(ctx)
	var lost []error
	for _, e := range effects {
		if err := p.publishOne(ctx, e); err != nil {
			lost = append(lost, err)
		}
	}
	return errors.Join(lost...)
}

func (p *Publisher) publishOne(ctx context.Context, e domain.Effect) error {
	const instance = "Publisher.Drain"

	body, err := e.Body()
	if err != nil {
		p.log.Error(instance, err)
		return err
	}

	if e.DedupKey != "" {
		claimed, err := p.dedup.ClaimEffect(ctx, e.DedupKey)
		if err != nil {
			// Without a claim the effect may be sent twice; consumers are idempotent.
			p.log.Warn(instance, fmt.Sprintf("claim %s failed, publishing unguarded: %v", e.DedupKey, err))
		} else if !claimed {
			p.log.Debug(instance, fmt.Sprintf("skip %s: already published", e.DedupKey))
			return nil
		}
	}

	err = util.Retry(ctx, p.cfg.Backoff, func(attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		if err := p.broker.Publish(callCtx, p.cfg.Exchange, e.Topic, e.Key, body); err != nil {
			p.log.Warn(instance, fmt.Sprintf("publish %s key=%s attempt %d failed: %v", e.Topic, e.Key, attempt, err))
			return err
		}
		return nil
	})
	if err == nil {
		p.log.OK(instance, fmt.Sprintf("published %s key=%s", e.Topic, e.Key))
		return nil
	}

	entry := domain.OutboxEntry{
		ID:        uuid.NewString(),
		Topic:     e.Topic,
		Key:       e.Key,
		Body:      body,
		DedupKey:  e.DedupKey,
		Attempts:  max(p.cfg.Backoff.Attempts, 1),
		LastError: err.Error(),
	}
	if saveErr := p.outbox.SaveOutbox(ctx, entry); saveErr != nil {
		lost := fmt.Errorf("effect %s key=%s lost to outbox failure: %w", e.Topic, e.Key, saveErr)
		p.log.Error(instance, lost)
		if e.DedupKey != "" {
			if relErr := p.dedup.ReleaseEffect(ctx, e.DedupKey); relErr != nil {
				p.log.Error(instance, relErr)
			}
		}
		return lost
	}
	p.log.Warn(instance, fmt.Sprintf("publish %s key=%s parked in outbox %s", e.Topic, e.Key, entry.ID))
	return nil
}
