// Package aggregator builds Snapshots: it combines the monitor catalog,
// the per monitor summaries and the batched health digest into a per
// region ranking of monitors by latency.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"go.ntppool.org/common/tracing"

	"go.ntppool.org/dnsresults/client/provider"
	"go.ntppool.org/dnsresults/ulid"
)

const (
	DefaultSummaryWindow      = 2 * time.Minute
	DefaultSummaryConcurrency = 4
	DefaultHomeSourcePrefix   = "ves-io-"
	DefaultReferenceSuffix    = "-f5xc"
)

// CatalogFetcher lists the monitors matching a name prefix.
type CatalogFetcher interface {
	ListMonitors(ctx context.Context, prefix string) (map[string]provider.Monitor, error)
}

// SummaryFetcher returns the latency statistics of one monitor.
type SummaryFetcher interface {
	Summarize(ctx context.Context, name string, end time.Time, window time.Duration) (provider.Summary, error)
}

// HealthFetcher returns the per region latency of a batch of monitors.
type HealthFetcher interface {
	Health(ctx context.Context, names []string) (provider.HealthDigest, error)
}

// SiteRegistry resolves the coordinates of home provider regions.
type SiteRegistry interface {
	Lookup(ctx context.Context, name string) (provider.Coordinates, bool, error)
}

// Sources are the collaborators of the Engine. Sites may be nil, then
// home regions have no coordinates.
type Sources struct {
	Catalog   CatalogFetcher
	Summaries SummaryFetcher
	Health    HealthFetcher
	Sites     SiteRegistry
}

// Config is the filter and window configuration of the Engine.
type Config struct {
	// MonitorPrefix limits the catalog to monitors starting with it.
	MonitorPrefix string
	// ReferenceSuffix marks the reference monitors.
	ReferenceSuffix string
	// HomeSourcePrefix identifies regions of the home provider.
	HomeSourcePrefix string

	SummaryWindow      time.Duration
	SummaryConcurrency int
}

// Engine runs refresh cycles. It holds no state between cycles, so
// concurrent calls to Refresh are safe; the cache makes sure there is only
// ever one.
type Engine struct {
	log     *slog.Logger
	cfg     Config
	src     Sources
	metrics *Metrics

	now func() time.Time
}

// New returns an Engine. Metrics may be nil.
func New(log *slog.Logger, cfg Config, src Sources, metrics *Metrics) (*Engine, error) {
	if src.Catalog == nil || src.Summaries == nil || src.Health == nil {
		return nil, errors.New("aggregator: catalog, summary and health fetchers are required")
	}
	if cfg.SummaryWindow <= 0 {
		cfg.SummaryWindow = DefaultSummaryWindow
	}
	if cfg.SummaryConcurrency <= 0 {
		cfg.SummaryConcurrency = DefaultSummaryConcurrency
	}

	return &Engine{
		log:     log,
		cfg:     cfg,
		src:     src,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Config returns the configuration in effect.
func (e *Engine) Config() Config {
	return e.cfg
}

// cycle is the working state of one refresh. Nothing in it is visible
// outside the engine until the Snapshot is built.
type cycle struct {
	log     *slog.Logger
	start   time.Time
	results map[string]*RegionResult
	missing []MissingData

	sitesFailed bool
}

// Refresh runs one cycle and returns the new Snapshot. A catalog or
// health digest failure returns a nil Snapshot and the *provider.UpstreamError.
// When only some monitors lacked data the Snapshot is returned together
// with a *PartialDataError.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.Start(ctx, "aggregator.Refresh")
	defer span.End()

	start := e.now()
	id, err := ulid.MakeULID(start)
	if err != nil {
		return nil, err
	}

	c := &cycle{
		log:     e.log.With("cycle", id.String()),
		start:   start,
		results: map[string]*RegionResult{},
	}
	span.SetAttributes(attribute.String("cycle", id.String()))

	fail := func(err error) (*Snapshot, error) {
		c.log.ErrorContext(ctx, "refresh failed, keeping previous snapshot", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.cycle("error", time.Since(start))
		return nil, err
	}

	catalog, err := e.src.Catalog.ListMonitors(ctx, e.cfg.MonitorPrefix)
	if err != nil {
		return fail(fmt.Errorf("listing monitors: %w", err))
	}
	names := slices.Sorted(maps.Keys(catalog))

	monitors := e.summarize(ctx, c, catalog, names)

	var digest provider.HealthDigest
	if len(names) > 0 {
		digest, err = e.src.Health.Health(ctx, names)
		if err != nil {
			return fail(fmt.Errorf("fetching health digest: %w", err))
		}
	}

	for _, name := range names {
		regions, ok := digest[name]
		if !ok {
			c.missing = append(c.missing, MissingData{Monitor: name, Stage: StageHealth})
			continue
		}
		for _, region := range slices.Sorted(maps.Keys(regions)) {
			src := regions[region]
			r := c.results[region]
			if r == nil {
				r = e.newRegion(ctx, c, src)
				c.results[region] = r
			}
			r.observe(Observation{
				Name:     name,
				Latency:  src.Latency,
				Critical: src.Critical,
				Healthy:  src.Healthy,
			}, catalog[name].Logo, e.cfg.ReferenceSuffix)
		}
	}

	results := make([]RegionResult, 0, len(c.results))
	for _, region := range slices.Sorted(maps.Keys(c.results)) {
		results = append(results, *c.results[region])
	}

	snap := &Snapshot{
		ID:                     id.String(),
		Monitors:               monitors,
		Results:                results,
		IncludedMonitorPrefix:  e.cfg.MonitorPrefix,
		ReferenceMonitorSuffix: e.cfg.ReferenceSuffix,
		CollectedAt:            e.now(),
	}

	e.metrics.snapshot(snap, len(c.missing))
	span.SetAttributes(
		attribute.Int("monitors", len(snap.Monitors)),
		attribute.Int("regions", len(snap.Results)),
	)

	if len(c.missing) > 0 {
		perr := &PartialDataError{Missing: c.missing}
		c.log.WarnContext(ctx, "refresh completed with partial data",
			"monitors", len(snap.Monitors), "regions", len(snap.Results), "err", perr)
		e.metrics.cycle("partial", time.Since(start))
		return snap, perr
	}

	c.log.InfoContext(ctx, "refresh completed",
		"monitors", len(snap.Monitors), "regions", len(snap.Results),
		"duration", time.Since(start))
	e.metrics.cycle("ok", time.Since(start))

	return snap, nil
}

// summarize fetches the summary of every monitor in parallel. Failures are
// recorded in the cycle; the monitor is kept without latency values.
func (e *Engine) summarize(ctx context.Context, c *cycle, catalog map[string]provider.Monitor, names []string) []MonitorDescriptor {
	monitors := make([]MonitorDescriptor, len(names))
	errs := make([]error, len(names))

	g := errgroup.Group{}
	g.SetLimit(e.cfg.SummaryConcurrency)

	for i, name := range names {
		m := catalog[name]
		monitors[i] = MonitorDescriptor{
			Name:        name,
			Description: m.Description,
			Logo:        m.Logo,
		}

		g.Go(func() error {
			s, err := e.src.Summaries.Summarize(ctx, name, c.start, e.cfg.SummaryWindow)
			if err != nil {
				errs[i] = err
				return nil
			}
			monitors[i].Latency = s.Latency
			monitors[i].AverageLatency = s.AvgLatency
			monitors[i].MaximumLatency = s.MaxLatency
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		c.log.WarnContext(ctx, "could not get monitor summary", "monitor", names[i], "err", err)
		c.missing = append(c.missing, MissingData{Monitor: names[i], Stage: StageSummary, Err: err})
	}

	return monitors
}

func (e *Engine) isHome(region string) bool {
	return len(e.cfg.HomeSourcePrefix) > 0 && strings.HasPrefix(region, e.cfg.HomeSourcePrefix)
}

// newRegion creates the result for a region on its first observation in
// the cycle and resolves its provider and coordinates.
func (e *Engine) newRegion(ctx context.Context, c *cycle, src provider.SourceHealth) *RegionResult {
	r := newRegionResult(src.Region)

	if !e.isHome(src.Region) {
		r.Provider = src.Provider
		if len(r.Provider) == 0 {
			r.Provider = ExternalProvider
		}
		if src.Coordinates != nil {
			r.setCoordinates(*src.Coordinates)
		}
		return r
	}

	r.Provider = HomeProvider

	if e.src.Sites == nil || c.sitesFailed {
		return r
	}

	coords, ok, err := e.lookupSite(ctx, src.Region)
	if err != nil {
		c.sitesFailed = true
		c.log.WarnContext(ctx, "site registry unavailable, home regions have no coordinates this cycle", "err", err)
		return r
	}
	if !ok {
		e.metrics.siteMiss()
		c.log.WarnContext(ctx, "region not in site registry", "region", src.Region)
		return r
	}
	r.setCoordinates(coords)

	return r
}

// lookupSite tries the region identifier and then the identifier without
// the home source prefix, which is how sites are named in the registry.
func (e *Engine) lookupSite(ctx context.Context, region string) (provider.Coordinates, bool, error) {
	coords, ok, err := e.src.Sites.Lookup(ctx, region)
	if err != nil || ok {
		return coords, ok, err
	}
	site := strings.TrimPrefix(region, e.cfg.HomeSourcePrefix)
	if site == region {
		return coords, false, nil
	}
	return e.src.Sites.Lookup(ctx, site)
}

func (r *RegionResult) setCoordinates(c provider.Coordinates) {
	lat, lon := c.Latitude, c.Longitude
	r.Latitude = &lat
	r.Longitude = &lon
}
