package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/llmgate/domain/quota"
	"github.com/artpar/llmgate/domain/ratelimit"
	"github.com/artpar/llmgate/ports"
)

// subjectState is everything the controller tracks for one caller.
type subjectState struct {
	rate     ratelimit.State
	usage    quota.Usage
	lastSeen time.Time
}

// admissionShard is a single shard of the controller's subject table.
type admissionShard struct {
	mu       sync.RWMutex
	subjects map[string]*subjectState
}

// Limits bundles the admission limits that apply to every subject.
// Location sets the timezone for the daily quota boundary (UTC if nil).
type Limits struct {
	PerSecond     int
	PerMinute     int
	MaxPerRequest int64
	MaxPerDay     int64
	Location      *time.Location
}

// limitSet is the immutable snapshot a single request works against.
// Hot reload swaps the whole set at once.
type limitSet struct {
	rate  ratelimit.Config
	quota quota.Config
	loc   *time.Location
}

func newLimitSet(l Limits) *limitSet {
	loc := l.Location
	if loc == nil {
		loc = time.UTC
	}
	return &limitSet{
		rate:  ratelimit.Config{PerSecond: l.PerSecond, PerMinute: l.PerMinute},
		quota: quota.Config{MaxPerRequest: l.MaxPerRequest, MaxPerDay: l.MaxPerDay},
		loc:   loc,
	}
}

// AdmissionConfig configures the in-memory admission controller.
type AdmissionConfig struct {
	Limits        Limits
	NumShards     int           // Number of shards (default: 32)
	SweepInterval time.Duration // How often to evict stale subjects (default: 1m)
}

// AdmissionController is a sharded in-memory implementation of
// ports.Admission. One subject always maps to one shard, so the shard
// mutex serializes that subject's admission decisions; sharding only
// spreads unrelated subjects across locks.
type AdmissionController struct {
	shards    []*admissionShard
	numShards int
	limits    atomic.Pointer[limitSet]
	clock     ports.Clock
	sweep     *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewAdmissionController creates a controller and starts its background
// sweep. Call Close to stop it.
func NewAdmissionController(cfg AdmissionConfig, clk ports.Clock) *AdmissionController {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	c := &AdmissionController{
		shards:    make([]*admissionShard, cfg.NumShards),
		numShards: cfg.NumShards,
		clock:     clk,
		done:      make(chan struct{}),
	}
	c.limits.Store(newLimitSet(cfg.Limits))

	for i := range c.shards {
		c.shards[i] = &admissionShard{
			subjects: make(map[string]*subjectState),
		}
	}

	c.sweep = time.NewTicker(cfg.SweepInterval)
	go c.sweepLoop()

	return c
}

// SetLimits replaces the active limits. In-flight requests keep the
// snapshot they loaded; new requests see the new limits.
func (c *AdmissionController) SetLimits(l Limits) {
	c.limits.Store(newLimitSet(l))
}

// getShard returns the shard for a subject using consistent hashing.
func (c *AdmissionController) getShard(subject string) *admissionShard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Admit decides whether one request for units tokens may proceed.
//
// Checks run in a fixed order: request size ceiling has its own error,
// then the second window, then the minute window, then the daily
// budget. A rate denial consumes nothing. The request slot is recorded
// before the daily budget check, so a quota denial still counts toward
// the rate windows.
func (c *AdmissionController) Admit(ctx context.Context, subject string, units int64) error {
	if units < 0 {
		return ports.ErrNegativeUnits
	}

	limits := c.limits.Load()
	now := c.clock.Now()
	today := quota.DayOf(now, limits.loc)

	shard := c.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	st := shard.subject(subject)
	st.lastSeen = now

	rate, err := ratelimit.Admit(st.rate, limits.rate, now)
	st.rate = rate
	if err != nil {
		return err
	}

	if err := quota.CheckRequest(units, limits.quota); err != nil {
		return err
	}

	usage, err := quota.CheckDay(st.usage, units, today, limits.quota)
	st.usage = usage
	return err
}

// RecordUsage commits units actually consumed and returns the
// remaining daily allowance. It never denies: a request that was
// admitted earlier gets its real consumption counted even when that
// pushes the day total past the cap.
func (c *AdmissionController) RecordUsage(ctx context.Context, subject string, units int64) (int64, error) {
	if units < 0 {
		return 0, ports.ErrNegativeUnits
	}

	limits := c.limits.Load()
	now := c.clock.Now()
	today := quota.DayOf(now, limits.loc)

	shard := c.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	st := shard.subject(subject)
	st.lastSeen = now

	usage, remaining := quota.Commit(st.usage, units, today, limits.quota)
	st.usage = usage
	return remaining, nil
}

// Remaining reports current headroom without consuming anything.
// Repeated calls with no traffic in between return the same answer.
func (c *AdmissionController) Remaining(ctx context.Context, subject string) (ports.Remaining, error) {
	limits := c.limits.Load()
	now := c.clock.Now()
	today := quota.DayOf(now, limits.loc)

	shard := c.getShard(subject)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	st, ok := shard.subjects[subject]
	if !ok {
		return ports.Remaining{
			PerSecond: limits.rate.PerSecond,
			PerMinute: limits.rate.PerMinute,
			PerDay:    limits.quota.MaxPerDay,
		}, nil
	}

	_, snap := ratelimit.Remaining(st.rate, limits.rate, now)
	_, perDay := quota.RemainingToday(st.usage, today, limits.quota)
	return ports.Remaining{
		PerSecond: snap.PerSecond,
		PerMinute: snap.PerMinute,
		PerDay:    perDay,
	}, nil
}

// subject returns the state entry for a subject, creating it lazily.
// Callers must hold the shard write lock.
func (s *admissionShard) subject(name string) *subjectState {
	st, ok := s.subjects[name]
	if !ok {
		st = &subjectState{}
		s.subjects[name] = st
	}
	return st
}

// sweepLoop periodically evicts stale subject entries.
func (c *AdmissionController) sweepLoop() {
	for {
		select {
		case <-c.sweep.C:
			c.Sweep(c.clock.Now())
		case <-c.done:
			return
		}
	}
}

// Sweep removes subjects whose last activity was on a previous day and
// more than a minute ago. Such entries carry no live rate window and a
// day total that would roll to zero on next touch, so dropping them is
// indistinguishable from lazily recreating them.
func (c *AdmissionController) Sweep(now time.Time) int {
	limits := c.limits.Load()
	today := quota.DayOf(now, limits.loc)

	evicted := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for name, st := range shard.subjects {
			if quota.DayOf(st.lastSeen, limits.loc) != today && now.Sub(st.lastSeen) > time.Minute {
				delete(shard.subjects, name)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	return evicted
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *AdmissionController) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sweep.Stop()
	})
	return nil
}

// Len returns the number of tracked subjects across all shards (for
// testing).
func (c *AdmissionController) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.subjects)
		shard.mu.RUnlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.Admission = (*AdmissionController)(nil)
