package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRecorder_DrainsOnClose(t *testing.T) {
	store := storage.NewMemoryStorage()
	r := NewRecorder(store, &Config{AsyncBuffer: 100, WriteTimeout: time.Second})

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		e := events.New(events.TypeDecisionMade, events.SourceAutomation, "translation", time.Now())
		if err := r.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	n, _ := store.Count(ctx, &events.Query{})
	if n != 50 {
		t.Errorf("Expected 50 events stored, got %d", n)
	}
	if got := r.Stats().Written; got != 50 {
		t.Errorf("Expected 50 written, got %d", got)
	}
}

func TestRecorder_AppendAfterClose(t *testing.T) {
	r := NewRecorder(storage.NewMemoryStorage(), nil)
	_ = r.Close()
	_ = r.Close()

	e := events.New(events.TypeWarningIssued, events.SourceAutomation, "translation", time.Now())
	err := r.Append(context.Background(), e)

	var recErr *events.RecorderError
	if !errors.As(err, &recErr) {
		t.Fatalf("Expected RecorderError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled cause, got %v", recErr.Cause)
	}
	if r.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", r.Stats().Dropped)
	}
}

func TestRecorder_CountsStoreFailures(t *testing.T) {
	store := storage.NewMemoryStorage()
	r := NewRecorder(store, nil)

	e := events.New(events.TypeDecisionMade, events.SourceAutomation, "translation", time.Now())
	_ = r.Append(context.Background(), e)
	_ = r.Append(context.Background(), e)
	_ = r.Close()

	stats := r.Stats()
	if stats.Written != 1 || stats.Failed != 1 {
		t.Errorf("Expected 1 written and 1 failed, got %+v", stats)
	}
}
