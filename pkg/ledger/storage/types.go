package storage

import (
	"context"
	"time"
)

// Backend persists budget buckets. Implementations must apply Add and Reserve
// atomically per bucket so concurrent consumers never lose an update.
type Backend interface {
	// Get returns the bucket for key, or nil when none exists yet.
	Get(ctx context.Context, key string) (*Bucket, error)

	// Add unconditionally adds delta to the bucket identified by b, creating
	// it when missing, and returns the new totals. Negative deltas are
	// allowed and clamp at zero.
	Add(ctx context.Context, b *Bucket, delta Counters) (*Bucket, error)

	// Reserve adds delta to every bucket only if no limited bucket would
	// exceed its limit in a dimension where delta is positive.
	Reserve(ctx context.Context, reservations []Reservation, delta Counters) (*ReserveResult, error)

	// List returns every bucket for a target key, or all buckets when target
	// is empty.
	List(ctx context.Context, target string) ([]*Bucket, error)

	// DeleteExpired removes buckets whose period ended before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

// Counters holds totals for the four budget dimensions.
type Counters struct {
	Actions          int64 `json:"actions"`
	Spend            int64 `json:"spend"`
	DBWrites         int64 `json:"db_writes"`
	ContentMutations int64 `json:"content_mutations"`
}

// Add returns the element-wise sum, clamping each dimension at zero.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Actions:          clamp(c.Actions + o.Actions),
		Spend:            clamp(c.Spend + o.Spend),
		DBWrites:         clamp(c.DBWrites + o.DBWrites),
		ContentMutations: clamp(c.ContentMutations + o.ContentMutations),
	}
}

// Sub returns the element-wise difference without clamping.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Actions:          c.Actions - o.Actions,
		Spend:            c.Spend - o.Spend,
		DBWrites:         c.DBWrites - o.DBWrites,
		ContentMutations: c.ContentMutations - o.ContentMutations,
	}
}

// IsZero reports whether every dimension is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Values returns the dimensions in a fixed order.
func (c Counters) Values() [4]int64 {
	return [4]int64{c.Actions, c.Spend, c.DBWrites, c.ContentMutations}
}

// Dimensions names the entries returned by Values.
var Dimensions = [4]string{"actions", "spend", "db_writes", "content_mutations"}

// Exceeds reports the dimensions where c plus delta would pass limit. Only
// dimensions with a positive delta are considered.
func (c Counters) Exceeds(delta, limit Counters) []string {
	cur, d, l := c.Values(), delta.Values(), limit.Values()
	var out []string
	for i := range d {
		if d[i] > 0 && cur[i]+d[i] > l[i] {
			out = append(out, Dimensions[i])
		}
	}
	return out
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Bucket is the consumption record for one target in one budget period.
type Bucket struct {
	// Key identifies the bucket: target, period and period start.
	Key string `json:"key"`

	Target      string    `json:"target"`
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Feature and Action record the most recent consumer.
	Feature string `json:"feature"`
	Action  string `json:"action"`

	Counters

	UpdatedAt time.Time `json:"updated_at"`
}

// Reservation names a bucket and, optionally, the limit it must stay within.
type Reservation struct {
	Bucket *Bucket

	// Limit is nil for buckets that are tracked but not capped.
	Limit *Counters
}

// ReserveResult reports the outcome of a Reserve call.
type ReserveResult struct {
	// Granted is true when the delta was applied to every bucket.
	Granted bool

	// Denied is the index of the first reservation that lacked headroom, or
	// -1 when granted.
	Denied int

	// Exceeded lists the dimensions that lacked headroom.
	Exceeded []string

	// Buckets holds the totals after the call, in reservation order.
	Buckets []*Bucket
}
