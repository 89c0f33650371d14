// Package cache holds the current Snapshot and decides when to refresh it.
//
// In on-read mode a read of a stale or empty cache runs a refresh cycle
// before returning. In background mode Run refreshes on a timer and reads
// return whatever is current without waiting for upstream calls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"go.ntppool.org/dnsresults/aggregator"
)

const (
	DefaultFreshness    = 60 * time.Second
	DefaultInterval     = 30 * time.Second
	DefaultCycleTimeout = 2 * time.Minute
)

// Mode selects the read contract.
type Mode string

const (
	ModeBackground Mode = "background"
	ModeOnRead     Mode = "on-read"
)

// ParseMode returns the Mode named by s.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBackground, ModeOnRead:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown refresh mode %q", s)
}

// State of the cache.
type State int

const (
	Empty State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Refresher runs a refresh cycle; *aggregator.Engine implements it.
type Refresher interface {
	Refresh(ctx context.Context) (*aggregator.Snapshot, error)
}

// Publisher is told about every snapshot stored in the cache.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap *aggregator.Snapshot)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, snap *aggregator.Snapshot)

func (f PublisherFunc) PublishSnapshot(ctx context.Context, snap *aggregator.Snapshot) {
	f(ctx, snap)
}

type Options struct {
	Mode Mode
	// Freshness is the age at which a snapshot becomes stale.
	Freshness time.Duration
	// Interval between background refreshes.
	Interval time.Duration
	// CycleTimeout bounds one refresh cycle.
	CycleTimeout time.Duration
}

// Cache owns the current Snapshot. Snapshots are replaced, never modified,
// so readers can keep using the one they got.
type Cache struct {
	log  *slog.Logger
	src  Refresher
	opts Options

	current atomic.Pointer[aggregator.Snapshot]
	flight  singleflight.Group

	publishers []Publisher

	now func() time.Time
}

// New returns an empty cache. When reg isn't nil a snapshot age gauge is
// registered with it.
func New(log *slog.Logger, src Refresher, opts Options, reg prometheus.Registerer) *Cache {
	if len(opts.Mode) == 0 {
		opts.Mode = ModeBackground
	}
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}

	c := &Cache{
		log:  log.WithGroup("cache"),
		src:  src,
		opts: opts,
		now:  time.Now,
	}

	if reg != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dnsresults_snapshot_age_seconds",
				Help: "Age of the current snapshot in seconds, -1 when there is none",
			},
			func() float64 {
				snap := c.Current()
				if snap == nil {
					return -1
				}
				return snap.Age(c.now()).Seconds()
			},
		))
	}

	return c
}

// AddPublisher registers p to receive every new snapshot. It must be
// called before the cache is used.
func (c *Cache) AddPublisher(p Publisher) {
	c.publishers = append(c.publishers, p)
}

func (c *Cache) Options() Options {
	return c.opts
}

// Current returns the current snapshot or nil. It never blocks.
func (c *Cache) Current() *aggregator.Snapshot {
	return c.current.Load()
}

// State reports if the cache is empty, fresh or stale.
func (c *Cache) State() State {
	return c.stateOf(c.Current())
}

func (c *Cache) stateOf(snap *aggregator.Snapshot) State {
	if snap == nil {
		return Empty
	}
	if snap.Age(c.now()) < c.opts.Freshness {
		return Fresh
	}
	return Stale
}

// Get returns the snapshot for a reader. It never fails; the result is
// nil when no refresh has completed yet. In on-read mode an empty or
// stale cache is refreshed first.
func (c *Cache) Get(ctx context.Context) *aggregator.Snapshot {
	snap := c.Current()
	if c.opts.Mode != ModeOnRead || c.stateOf(snap) == Fresh {
		return snap
	}

	snap, err := c.Refresh(ctx)
	if err != nil {
		var perr *aggregator.PartialDataError
		if !errors.As(err, &perr) {
			c.log.WarnContext(ctx, "refresh on read failed, serving cached snapshot", "err", err)
		}
	}
	return snap
}

// Refresh runs a refresh cycle and stores the result. Overlapping calls
// join the cycle already in flight. The cycle isn't cancelled with ctx;
// a cancelled caller stops waiting and gets the current snapshot.
//
// The returned snapshot is the current one after the cycle; on a failed
// cycle that is the previous snapshot, returned with the error.
func (c *Cache) Refresh(ctx context.Context) (*aggregator.Snapshot, error) {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CycleTimeout)
		defer cancel()

		snap, err := c.src.Refresh(cycleCtx)
		if snap != nil {
			c.store(cycleCtx, snap)
		}
		return snap, err
	})

	select {
	case <-ctx.Done():
		return c.Current(), ctx.Err()
	case res := <-ch:
		if snap, ok := res.Val.(*aggregator.Snapshot); ok && snap != nil {
			return snap, res.Err
		}
		return c.Current(), res.Err
	}
}

func (c *Cache) store(ctx context.Context, snap *aggregator.Snapshot) {
	c.current.Store(snap)
	c.log.DebugContext(ctx, "stored snapshot", "id", snap.ID, "collected", snap.CollectedAt)
	for _, p := range c.publishers {
		p.PublishSnapshot(ctx, snap)
	}
}
