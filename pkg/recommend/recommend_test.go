package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	eventstorage "github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

var now = time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

type staticHistory []*storage.Bucket

func (h staticHistory) History(ctx context.Context, target *policy.Target) ([]*storage.Bucket, error) {
	var out []*storage.Bucket
	for _, b := range h {
		if target == nil || b.Target == target.Key() {
			out = append(out, b)
		}
	}
	return out, nil
}

func dailyBuckets(target policy.Target, actions ...int64) staticHistory {
	var h staticHistory
	for i, n := range actions {
		start := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		h = append(h, &storage.Bucket{
			Target:      target.Key(),
			Period:      string(policy.PeriodDaily),
			PeriodStart: start,
			PeriodEnd:   start.AddDate(0, 0, 1),
			Counters:    storage.Counters{Actions: n},
		})
	}
	return h
}

func policies(t *testing.T) policy.SnapshotSource {
	t.Helper()
	store, err := policy.NewStore([]*policy.Definition{
		{
			ID:             "global-default",
			Name:           "Global default",
			Target:         policy.GlobalTarget(),
			Enabled:        true,
			AllowedActions: []policy.Action{policy.AnyAction},
			Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 1000}},
			Approval:       policy.ApprovalAuto,
		},
		{
			ID:             "translation",
			Name:           "Translation",
			Target:         policy.FeatureTarget("translation"),
			Enabled:        true,
			Priority:       100,
			AllowedActions: []policy.Action{"translate"},
			Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 200, MaxSpend: 5000}},
			Approval:       policy.ApprovalAuto,
		},
	}, nil, clockwork.NewFakeClockAt(now))
	if err != nil {
		t.Fatalf("Failed to create policy store: %v", err)
	}
	return store
}

func decisions(t *testing.T, n, overrides int) events.Store {
	t.Helper()
	store := eventstorage.NewMemoryStorage()
	for i := 0; i < n; i++ {
		e := events.New(events.TypeDecisionMade, events.SourceAutomation, "translation", now.Add(-time.Duration(i)*time.Minute))
		e.Action = "translate"
		e.Data[events.DataDecision] = "ALLOW"
		e.Data[events.DataOverride] = i < overrides
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return store
}

func TestRecommend(t *testing.T) {
	target := policy.FeatureTarget("translation")
	steady := dailyBuckets(target, 40, 45, 50, 42, 48, 44, 46, 41, 47, 43)

	tests := []struct {
		name         string
		history      staticHistory
		decisions    int
		overrides    int
		wantActions  int64
		wantSafety   bool
		wantWithheld bool
	}{
		{"peak plus headroom", steady, 120, 0, 60, false, false},
		{"safety margin when overrides are elevated", steady, 120, 30, 66, true, false},
		{"withheld below minimum data points", steady, 50, 0, 0, false, true},
		{"withheld when consumption is volatile", dailyBuckets(target, 1, 1, 1, 1, 100), 150, 0, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecommender(tt.history, decisions(t, tt.decisions, tt.overrides), policies(t), nil, nil, clockwork.NewFakeClockAt(now))
			rec, err := r.Recommend(context.Background(), "translation")
			if err != nil {
				t.Fatalf("Recommend failed: %v", err)
			}
			if rec.SafetyMarginApplied != tt.wantSafety {
				t.Errorf("Expected safety margin %v, got %v", tt.wantSafety, rec.SafetyMarginApplied)
			}
			if rec.Withheld != tt.wantWithheld {
				t.Errorf("Expected withheld %v, got %v (confidence %.2f, %s)", tt.wantWithheld, rec.Withheld, rec.Confidence, rec.WithheldReason)
			}
			if rec.Current == nil || rec.Current.MaxActions != 200 {
				t.Errorf("Expected current cap 200, got %+v", rec.Current)
			}
			if tt.wantWithheld {
				if rec.Recommended != nil {
					t.Errorf("Expected a withheld recommendation to propose no cap, got %+v", rec.Recommended)
				}
				if rec.WithheldReason == "" {
					t.Error("Expected a withheld reason")
				}
				return
			}
			if rec.Recommended == nil {
				t.Fatal("Expected a proposed cap")
			}
			if rec.Recommended.MaxActions != tt.wantActions {
				t.Errorf("Expected max actions %d, got %d", tt.wantActions, rec.Recommended.MaxActions)
			}
			// Spend was never consumed, so the current cap is kept.
			if rec.Recommended.MaxSpend != 5000 {
				t.Errorf("Expected untouched spend cap 5000, got %d", rec.Recommended.MaxSpend)
			}
		})
	}
}

func TestRecommend_UnknownFeature(t *testing.T) {
	r := NewRecommender(staticHistory{}, eventstorage.NewMemoryStorage(), policies(t), nil, nil, clockwork.NewFakeClockAt(now))
	if _, err := r.Recommend(context.Background(), "weather"); err == nil {
		t.Error("Expected an error for an unknown feature")
	}
}

func TestRecommender_RunCachesLatest(t *testing.T) {
	r := NewRecommender(staticHistory{}, eventstorage.NewMemoryStorage(), policies(t), nil, nil, clockwork.NewFakeClockAt(now))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if latest := r.Latest(); len(latest) != 0 {
		t.Errorf("Expected withheld recommendations to stay out of Latest, got %d", len(latest))
	}
	if n := r.WithheldCount(); n != len(policy.DefaultRegistry().Features()) {
		t.Errorf("Expected every feature withheld without history, got %d", n)
	}
}

func TestRecommender_LatestSurfacesConfidentOnly(t *testing.T) {
	target := policy.FeatureTarget("translation")
	steady := dailyBuckets(target, 40, 45, 50, 42, 48, 44, 46, 41, 47, 43)
	r := NewRecommender(steady, decisions(t, 120, 0), policies(t), nil, nil, clockwork.NewFakeClockAt(now))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	latest := r.Latest()
	if len(latest) != 1 || latest[0].Feature != "translation" {
		t.Fatalf("Expected only translation to be surfaced, got %+v", latest)
	}
	if latest[0].Recommended == nil || latest[0].Recommended.MaxActions != 60 {
		t.Errorf("Expected a proposed cap of 60, got %+v", latest[0].Recommended)
	}
	if n := r.WithheldCount(); n != len(policy.DefaultRegistry().Features())-1 {
		t.Errorf("Expected the other features to be withheld, got %d", n)
	}
}
