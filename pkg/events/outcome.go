package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultOutcomeRetries bounds the read-modify-write loop in AttachOutcome.
const DefaultOutcomeRetries = 5

// New returns an event with a fresh id and timestamp.
func New(typ EventType, source Source, feature string, now time.Time) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: now,
		Source:    source,
		Feature:   feature,
		Data:      make(map[string]any),
	}
}

// AttachOutcome merges patch into the outcome of event id. Concurrent
// writers are resolved optimistically: the event is re-read and the patch
// re-applied when another update wins the race.
func AttachOutcome(ctx context.Context, store Store, id string, patch OutcomePatch, now time.Time, retries int) (*Event, error) {
	if retries <= 0 {
		retries = DefaultOutcomeRetries
	}

	for attempt := 0; attempt < retries; attempt++ {
		e, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		outcome := patch.Apply(e.Outcome)
		outcome.RecordedAt = now

		err = store.UpdateOutcome(ctx, id, outcome, e.Version)
		if err == nil {
			e.Outcome = outcome
			e.Version++
			return e, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts on event %s", ErrVersionConflict, retries, id)
}
