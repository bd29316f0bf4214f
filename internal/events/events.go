// Package events publishes catalog change notifications. Kafka is used when
// enabled in config; otherwise events are dropped by a no-op publisher.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cinesync/internal/config"
)

// TypeMovieUpserted is emitted after a movie record commits.
const TypeMovieUpserted = "catalog.movie.upserted"

// Event describes one committed catalog change.
type Event struct {
	Type        string    `json:"type"`
	MovieID     int64     `json:"movie_id"`
	Title       string    `json:"title"`
	ReleaseDate string    `json:"release_date,omitempty"`
	ContentHash string    `json:"content_hash"`
	Mode        string    `json:"mode,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Created     bool      `json:"created"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New returns the publisher configured in cfg.
func New(cfg *config.Config, logger *zap.Logger) (Publisher, error) {
	if cfg == nil || !cfg.Events.Enabled {
		return Nop{}, nil
	}
	if len(cfg.Events.Brokers) == 0 {
		return nil, errors.New("events: at least one broker is required")
	}
	return NewKafka(KafkaOptions{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic}, logger), nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory. Tests use it to observe what a
// component emitted; Err, when set, is returned from Publish.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
