package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Deltas is a requested or consumed amount in each budget dimension.
type Deltas = storage.Counters

const (
	// DefaultOpTimeout bounds every backend call.
	DefaultOpTimeout = 3 * time.Second

	// DefaultRetention keeps ended buckets long enough to cover one monthly
	// period of history.
	DefaultRetention = 32 * 24 * time.Hour
)

// Config configures a Ledger.
type Config struct {
	// Location anchors period boundaries (default: UTC).
	Location *time.Location

	// OpTimeout bounds each backend call (default: 3s).
	OpTimeout time.Duration

	// Retention is how long buckets are kept after their period ends
	// (default: 32 days).
	Retention time.Duration
}

// Ledger tracks consumption per policy target and period and answers whether
// a request still has headroom.
type Ledger struct {
	backend   storage.Backend
	clock     clockwork.Clock
	loc       *time.Location
	timeout   time.Duration
	retention time.Duration
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates a ledger over backend.
func New(backend storage.Backend, clock clockwork.Clock, cfg Config, metrics *Metrics) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Ledger{
		backend:   backend,
		clock:     clock,
		loc:       cfg.Location,
		timeout:   cfg.OpTimeout,
		retention: cfg.Retention,
		metrics:   metrics,
		logger:    slog.Default().With("component", "ledger"),
	}
}

// PeriodStatus is a target's consumption in the current period.
type PeriodStatus struct {
	Period policy.Period `json:"period"`
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Used   Deltas        `json:"used"`

	// Limit is set when the policy caps this period.
	Limit *policy.BudgetLimit `json:"limit,omitempty"`

	// Exceeded lists the dimensions the request would push past the limit.
	Exceeded []string `json:"exceeded,omitempty"`

	// Remaining is the time left in the period.
	Remaining time.Duration `json:"remaining"`
}

// HeadroomResult is the answer to a headroom check.
type HeadroomResult struct {
	HasRoom bool           `json:"has_room"`
	Periods []PeriodStatus `json:"periods"`

	// Exhausted holds the periods without headroom.
	Exhausted []PeriodStatus `json:"exhausted,omitempty"`

	// RetryAfter is the longest time left among exhausted periods; every
	// blocking period has rolled over once it elapses.
	RetryAfter time.Duration `json:"retry_after"`
}

// Location returns the time zone period boundaries are computed in.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// CheckHeadroom reports whether target can absorb deltas in every budgeted
// period. Nothing is consumed.
func (l *Ledger) CheckHeadroom(ctx context.Context, target policy.Target, budgets []policy.BudgetLimit, deltas Deltas) (*HeadroomResult, error) {
	if err := checkDeltas(deltas); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	defer func() { l.metrics.observe("check", time.Since(start).Seconds()) }()

	now := l.clock.Now()
	result := &HeadroomResult{HasRoom: true}
	for _, b := range budgets {
		limit := b
		ps := l.status(target, b.Period, now)
		ps.Limit = &limit

		bucket, err := l.backend.Get(ctx, BucketKey(target, b.Period, ps.Start))
		if err != nil {
			return nil, storageError("check", err)
		}
		if bucket != nil {
			ps.Used = bucket.Counters
		}
		l.judge(&ps, deltas, result)
	}

	l.finish(target, result)
	return result, nil
}

// Reserve atomically checks headroom and, when every budgeted period has
// room, consumes deltas in all four periods.
func (l *Ledger) Reserve(ctx context.Context, target policy.Target, budgets []policy.BudgetLimit, deltas Deltas, feature policy.Feature, action policy.Action) (*HeadroomResult, error) {
	if err := checkDeltas(deltas); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	defer func() { l.metrics.observe("reserve", time.Since(start).Seconds()) }()

	now := l.clock.Now()
	periods := policy.Periods()
	statuses := make([]PeriodStatus, len(periods))
	reservations := make([]storage.Reservation, len(periods))
	for i, p := range periods {
		statuses[i] = l.status(target, p, now)
		reservations[i] = storage.Reservation{Bucket: l.bucket(target, statuses[i], feature, action, now)}
		for _, b := range budgets {
			if b.Period == p {
				limit := b
				statuses[i].Limit = &limit
				reservations[i].Limit = &Deltas{
					Actions:          b.MaxActions,
					Spend:            b.MaxSpend,
					DBWrites:         b.MaxDBWrites,
					ContentMutations: b.MaxContentMutations,
				}
			}
		}
	}

	res, err := l.backend.Reserve(ctx, reservations, deltas)
	if err != nil {
		return nil, storageError("reserve", err)
	}

	// A denial is judged against every capped period, so RetryAfter is the
	// longest exhausted one as in CheckHeadroom.
	result := &HeadroomResult{HasRoom: res.Granted}
	for i := range statuses {
		ps := statuses[i]
		if i < len(res.Buckets) && res.Buckets[i] != nil {
			ps.Used = res.Buckets[i].Counters
		}
		switch {
		case ps.Limit == nil:
		case res.Granted:
			result.Periods = append(result.Periods, ps)
		default:
			l.judge(&ps, deltas, result)
		}
	}
	if !res.Granted && len(result.Exhausted) == 0 && res.Denied >= 0 && res.Denied < len(statuses) {
		ps := statuses[res.Denied]
		ps.Exceeded = res.Exceeded
		result.Exhausted = append(result.Exhausted, ps)
		result.RetryAfter = ps.Remaining
	}

	l.finish(target, result)
	if res.Granted {
		l.metrics.recordConsumed(target.Key(), deltas)
	}
	return result, nil
}

// Consume records deltas against target in one period.
func (l *Ledger) Consume(ctx context.Context, target policy.Target, period policy.Period, deltas Deltas, feature policy.Feature, action policy.Action) (*storage.Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	defer func() { l.metrics.observe("consume", time.Since(start).Seconds()) }()

	now := l.clock.Now()
	b, err := l.backend.Add(ctx, l.bucket(target, l.status(target, period, now), feature, action, now), deltas)
	if err != nil {
		return nil, storageError("consume", err)
	}
	l.metrics.recordConsumed(target.Key(), deltas)
	return b, nil
}

// ConsumeAll records deltas against target in every period. Negative deltas
// correct an earlier reservation.
func (l *Ledger) ConsumeAll(ctx context.Context, target policy.Target, deltas Deltas, feature policy.Feature, action policy.Action) error {
	if deltas.IsZero() {
		return nil
	}
	for _, p := range policy.Periods() {
		if _, err := l.Consume(ctx, target, p, deltas, feature, action); err != nil {
			return err
		}
	}
	return nil
}

// Usage returns the current-period consumption for target in every period.
func (l *Ledger) Usage(ctx context.Context, target policy.Target) ([]PeriodStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.clock.Now()
	out := make([]PeriodStatus, 0, 4)
	for _, p := range policy.Periods() {
		ps := l.status(target, p, now)
		b, err := l.backend.Get(ctx, BucketKey(target, p, ps.Start))
		if err != nil {
			return nil, storageError("usage", err)
		}
		if b != nil {
			ps.Used = b.Counters
		}
		out = append(out, ps)
	}
	return out, nil
}

// History returns every retained bucket for target, or for all targets when
// target is nil.
func (l *Ledger) History(ctx context.Context, target *policy.Target) ([]*storage.Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := ""
	if target != nil {
		key = target.Key()
	}
	buckets, err := l.backend.List(ctx, key)
	if err != nil {
		return nil, storageError("history", err)
	}
	return buckets, nil
}

// Sweep evicts buckets whose period ended longer ago than the retention.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	cutoff := l.clock.Now().Add(-l.retention)
	n, err := l.backend.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, storageError("sweep", err)
	}
	l.metrics.recordSwept(n)
	if n > 0 {
		l.logger.Info("swept stale budget buckets", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Close closes the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

func (l *Ledger) status(target policy.Target, p policy.Period, now time.Time) PeriodStatus {
	start, end := Boundaries(p, now, l.loc)
	return PeriodStatus{
		Period:    p,
		Start:     start,
		End:       end,
		Remaining: secondsUntil(now, end),
	}
}

func (l *Ledger) bucket(target policy.Target, ps PeriodStatus, feature policy.Feature, action policy.Action, now time.Time) *storage.Bucket {
	return &storage.Bucket{
		Key:         BucketKey(target, ps.Period, ps.Start),
		Target:      target.Key(),
		Period:      string(ps.Period),
		PeriodStart: ps.Start,
		PeriodEnd:   ps.End,
		Feature:     string(feature),
		Action:      string(action),
		UpdatedAt:   now,
	}
}

func (l *Ledger) judge(ps *PeriodStatus, deltas Deltas, result *HeadroomResult) {
	limit := Deltas{
		Actions:          ps.Limit.MaxActions,
		Spend:            ps.Limit.MaxSpend,
		DBWrites:         ps.Limit.MaxDBWrites,
		ContentMutations: ps.Limit.MaxContentMutations,
	}
	ps.Exceeded = ps.Used.Exceeds(deltas, limit)
	result.Periods = append(result.Periods, *ps)

	if len(ps.Exceeded) == 0 {
		return
	}
	result.HasRoom = false
	result.Exhausted = append(result.Exhausted, *ps)
	if ps.Remaining > result.RetryAfter {
		result.RetryAfter = ps.Remaining
	}
}

func (l *Ledger) finish(target policy.Target, result *HeadroomResult) {
	l.metrics.recordCheck(target.Key(), result.HasRoom)
	for _, ps := range result.Exhausted {
		l.metrics.recordExhaustion(target.Key(), string(ps.Period))
	}
}

func checkDeltas(d Deltas) error {
	for _, v := range d.Values() {
		if v < 0 {
			return ErrInvalidDelta
		}
	}
	return nil
}
