package publisher

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/util"
)

// Relay periodically re-publishes outbox entries left by failed drains.
type Relay struct {
	broker   domain.Broker
	outbox   domain.OutboxRepository
	exchange string
	interval time.Duration
	batch    int
	timeout  time.Duration
	log      *util.Logger
}

func NewRelay(broker domain.Broker, outbox domain.OutboxRepository, exchange string, interval time.Duration, batch int, timeout time.Duration, log *util.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Relay{
		broker:   broker,
		outbox:   outbox,
		exchange: exchange,
		interval: interval,
		batch:    batch,
		timeout:  timeout,
		log:      log,
	}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Relay.Start", fmt.Sprintf("outbox relay started, interval %s", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Relay.Start", "outbox relay stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep makes one pass over pending entries and returns how many were sent.
func (r *Relay) Sweep(ctx context.Context) int {
	const instance = "Relay.Sweep"

	pending, err := r.outbox.PendingOutbox(ctx, r.batch)
	if err != nil {
		r.log.Error(instance, err)
		return 0
	}

	sent := 0
	for _, e := range pending {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.broker.Publish(callCtx, r.exchange, e.Topic, e.Key, e.Body)
		cancel()

		if err != nil {
			r.log.Warn(instance, fmt.Sprintf("outbox %s (%s) still failing: %v", e.ID, e.Topic, err))
			if recErr := r.outbox.RecordOutboxFailure(ctx, e.ID, err.Error()); recErr != nil {
				r.log.Error(instance, recErr)
			}
			continue
		}
		if err := r.outbox.MarkOutboxSent(ctx, e.ID); err != nil {
			r.log.Error(instance, err)
			continue
		}
		sent++
	}

	if sent > 0 {
		r.log.OK(instance, fmt.Sprintf("relayed %d of %d outbox entries", sent, len(pending)))
	}
	return sent
}
