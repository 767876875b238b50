package risk

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	eventstorage "github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{24.9, LevelLow},
		{25, LevelMedium},
		{49.9, LevelMedium},
		{50, LevelHigh},
		{75, LevelCritical},
		{99.9, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%v): expected %s, got %s", tt.score, tt.want, got)
		}
	}
}

func TestLog_BoundedAndOrdered(t *testing.T) {
	l := NewLog(3)
	base := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Record(Event{
			Type:      EventNearMiss,
			Target:    Target{Kind: TargetFeature, ID: "translation"},
			Context:   Context{Feature: "translation", Description: string(rune('a' + i))},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	if l.Len() != 3 {
		t.Fatalf("Expected 3 retained events, got %d", l.Len())
	}
	got := l.Since(time.Time{}, Scope{})
	want := []string{"c", "d", "e"}
	for i, e := range got {
		if e.Context.Description != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], e.Context.Description)
		}
	}

	if n := len(l.Since(base.Add(4*time.Minute), Scope{})); n != 1 {
		t.Errorf("Expected 1 event since the last minute, got %d", n)
	}
	if n := len(l.Since(time.Time{}, Scope{Feature: "notifications"})); n != 0 {
		t.Errorf("Expected no events for another feature, got %d", n)
	}
}

func TestAssessor_IncidentRaisesRisk(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC))
	store := eventstorage.NewMemoryStorage()
	assessor := NewAssessor(NewLog(0), store, nil, clock)

	decisionEvent := events.New(events.TypeDecisionMade, events.SourceAutomation, "content_publishing", clock.Now())
	decisionEvent.Action = "content_update"
	decisionEvent.Data[events.DataDecision] = "ALLOW"
	if err := store.Append(ctx, decisionEvent); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	before, err := assessor.Assess(ctx, Scope{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	clock.Advance(time.Minute)
	incident := events.New(events.TypeIncidentOccurred, events.SourceHuman, "content_publishing", clock.Now())
	incident.Data[events.DataRelatedEvent] = decisionEvent.ID
	if err := store.Append(ctx, incident); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	hadIncident := true
	if _, err := events.AttachOutcome(ctx, store, decisionEvent.ID, events.OutcomePatch{HadIncident: &hadIncident}, clock.Now(), 0); err != nil {
		t.Fatalf("AttachOutcome failed: %v", err)
	}

	after, err := assessor.Assess(ctx, Scope{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if after.Score <= before.Score {
		t.Errorf("Expected score to rise above %.1f, got %.1f", before.Score, after.Score)
	}
	if len(after.Factors) == 0 || after.Factors[0].Name != FactorIncidentOutcome {
		t.Errorf("Expected %s to be the leading factor, got %+v", FactorIncidentOutcome, after.Factors)
	}
}

func TestAssessor_ScoreIsMonotonicAndBounded(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC))
	log := NewLog(0)
	assessor := NewAssessor(log, nil, nil, clock)

	prev := -1.0
	for i := 0; i < 40; i++ {
		log.Record(Event{Type: EventPolicyBypassed, Target: Target{Kind: TargetTeam, ID: "editorial"}, Timestamp: clock.Now()})
		a, err := assessor.Assess(ctx, Scope{})
		if err != nil {
			t.Fatalf("Assess failed: %v", err)
		}
		if a.Score < prev {
			t.Fatalf("Expected non-decreasing score, got %.1f after %.1f", a.Score, prev)
		}
		if a.Score > 100 {
			t.Fatalf("Expected score <= 100, got %.1f", a.Score)
		}
		prev = a.Score
	}
	if prev < 75 {
		t.Errorf("Expected critical risk after 40 bypasses, got %.1f", prev)
	}
}

func TestAssessor_LookbackExcludesOldEvents(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC))
	log := NewLog(0)
	log.Record(Event{Type: EventIncidentOccurred, Timestamp: clock.Now().Add(-8 * 24 * time.Hour)})

	a, err := NewAssessor(log, nil, nil, clock).Assess(context.Background(), Scope{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if a.Score != 0 || a.Level != LevelLow {
		t.Errorf("Expected zero low risk, got %.1f %s", a.Score, a.Level)
	}
}
