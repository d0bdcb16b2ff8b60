package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/observe"
)

// Message is one undecoded server event.
type Message struct {
	// Handle acknowledges the message with its source.
	Handle string
	Body   []byte
}

// EventSource delivers server events.
type EventSource interface {
	// Receive returns the next batch; an empty batch is not an error.
	Receive(ctx context.Context) ([]Message, error)
	// Ack removes a handled message from the source.
	Ack(ctx context.Context, msg Message) error
}

// IngestStats summarizes one poll.
type IngestStats struct {
	Received int
	Saved    int
	Dropped  int
	Failed   int
}

// Ingester moves events from an EventSource into a Store.
//
// Undecodable messages and events that fail record validation are
// acknowledged and dropped. Messages that fail to save for any other reason
// are left unacknowledged so the source redelivers them.
type Ingester struct {
	source EventSource
	store  *Store
	mw     *observe.Middleware
	clock  clockwork.Clock
	logger observe.Logger
}

// NewIngester creates an Ingester. A nil middleware disables observation.
func NewIngester(source EventSource, store *Store, mw *observe.Middleware) *Ingester {
	if mw == nil {
		mw = observe.NewMiddleware(nil, nil, nil)
	}
	return &Ingester{
		source: source,
		store:  store,
		mw:     mw,
		clock:  store.clock,
		logger: mw.Logger().WithComponent("notify.ingest"),
	}
}

// Poll receives one batch and saves it.
func (i *Ingester) Poll(ctx context.Context) (IngestStats, error) {
	var stats IngestStats
	op := observe.Op{Component: "notify", Name: "ingest"}
	err := i.mw.Run(ctx, op, func(ctx context.Context) error {
		msgs, err := i.source.Receive(ctx)
		if err != nil {
			return fmt.Errorf("notify: receive: %w", err)
		}
		stats.Received = len(msgs)

		var errs []error
		for _, msg := range msgs {
			rec, perr := decodeMessage(msg, i.clock.Now())
			if perr != nil {
				i.logger.Warn(ctx, "dropping undecodable event", observe.Err(perr))
				stats.Dropped++
				if err := i.source.Ack(ctx, msg); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			if _, err := i.store.Save(ctx, rec); err != nil {
				if errors.Is(err, ErrInvalidRecord) {
					i.logger.Warn(ctx, "dropping invalid event", observe.Err(err))
					stats.Dropped++
					if err := i.source.Ack(ctx, msg); err != nil {
						errs = append(errs, err)
					}
					continue
				}
				stats.Failed++
				errs = append(errs, err)
				continue
			}
			stats.Saved++
			if err := i.source.Ack(ctx, msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return stats, err
}

// Run polls until ctx is done, waiting interval between empty polls.
func (i *Ingester) Run(ctx context.Context, interval time.Duration) error {
	for {
		stats, err := i.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			i.logger.Error(ctx, "ingest poll failed", observe.Err(err))
		}
		if stats.Received > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-i.clock.After(interval):
		}
	}
}

func decodeMessage(msg Message, now time.Time) (Record, error) {
	var data map[string]any
	if err := json.Unmarshal(msg.Body, &data); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ParseEvent(data, now)
}
