// Package dashboard drives the job-monitoring dashboard. A Controller owns
// the View and refreshes it from a jpm.Source: each refresh starts a new
// cycle, fetches run concurrently, and every result is applied through a
// single staleness-checked entry point so only the latest cycle's data ever
// reaches the view.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

// ErrFetch marks a failed upstream request. It is recorded on the affected
// panel and never aborts the rest of the cycle.
var ErrFetch = errors.New("fetch failed")

// Series names shown in chart legends.
const (
	SeriesRunningContainers = "Running Containers"
	SeriesAllocatedVCores   = "Allocated vCores"
	SeriesAllocatedMemory   = "Allocated Memory"
	SeriesAllocatedGB       = "Allocated GB"
	SeriesAllocatedMB       = "Allocated MB"
	SeriesTotalMemory       = "Total Memory"
)

const (
	// DefaultFetchTimeout bounds a single cycle's fetches.
	DefaultFetchTimeout = 30 * time.Second
)

// Options configures a Controller.
type Options struct {
	Site         string
	JobLimit     int              // 0 uses jpm.DefaultJobLimit
	FetchTimeout time.Duration    // 0 uses DefaultFetchTimeout
	Now          func() time.Time // nil uses time.Now
	Verbose      bool
}

// Controller is the refresh orchestrator and sole owner of the View.
type Controller struct {
	source jpm.Source
	opts   Options

	mu         sync.Mutex
	generation uint64
	pending    int
	view       View

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64
}

// New creates a controller reading from source.
func New(source jpm.Source, opts Options) (*Controller, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if opts.Site == "" {
		return nil, fmt.Errorf("site is required")
	}
	if opts.JobLimit <= 0 {
		opts.JobLimit = jpm.DefaultJobLimit
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		source:      source,
		opts:        opts,
		view:        View{Loaded: map[Panel]bool{}, Errors: map[Panel]string{}},
		subscribers: make(map[uint64]chan struct{}),
	}, nil
}

// Site returns the cluster site the controller reports on.
func (c *Controller) Site() string {
	return c.opts.Site
}

// Now returns the controller's clock reading.
func (c *Controller) Now() time.Time {
	return c.opts.Now()
}

// Cycle tracks the fetches of one refresh.
type Cycle struct {
	Generation uint64
	ID         string
	Grid       timewindow.Grid

	wg   sync.WaitGroup
	done chan struct{}
}

// Done is closed once every fetch of the cycle has been applied or discarded.
func (cy *Cycle) Done() <-chan struct{} {
	return cy.done
}

// Wait blocks until the cycle is done or ctx ends.
func (cy *Cycle) Wait(ctx context.Context) error {
	select {
	case <-cy.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// task is one independent unit of a refresh cycle.
type task func(ctx context.Context, gen uint64, r timewindow.Range, grid timewindow.Grid)

// Refresh starts a new cycle for r. An invalid range is rejected and leaves
// the current view untouched. Fetches are detached from ctx's cancellation
// and bounded by the fetch timeout instead; a newer Refresh supersedes them.
func (c *Controller) Refresh(ctx context.Context, r timewindow.Range) (*Cycle, error) {
	grid, err := timewindow.Resolve(r)
	if err != nil {
		return nil, err
	}

	tasks := []task{
		c.fetchJobs,
		c.fetchRunningJobs,
		c.fetchRunningContainers,
		c.fetchAllocatedVCores,
		c.fetchAllocatedMemory,
	}

	c.mu.Lock()
	c.generation++
	cycle := &Cycle{
		Generation: c.generation,
		ID:         uuid.NewString(),
		Grid:       grid,
		done:       make(chan struct{}),
	}
	c.view = newView(cycle.Generation, cycle.ID, r, grid, c.opts.Now())
	c.pending = len(tasks)
	c.mu.Unlock()

	if c.opts.Verbose {
		log.Printf("🔄 dashboard: cycle %d (%s) %s → %s, %d × %s buckets\n",
			cycle.Generation, cycle.ID, grid.Start.Format(time.RFC3339), grid.End.Format(time.RFC3339),
			grid.Count, grid.Interval)
	}
	c.notifySubscribers()

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	for _, t := range tasks {
		cycle.wg.Add(1)
		go func(t task) {
			defer cycle.wg.Done()
			t(fetchCtx, cycle.Generation, r, grid)
		}(t)
	}
	go func() {
		cycle.wg.Wait()
		cancel()
		close(cycle.done)
	}()

	return cycle, nil
}

// View returns a copy of the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Clone()
}

// Generation returns the current cycle's generation (0 before the first refresh).
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// State reports whether the current cycle still has outstanding fetches.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		return StateFetching
	}
	return StateIdle
}

// current reports whether gen is still the latest cycle.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// apply is the only place the view is mutated after a cycle starts. Results
// from superseded cycles are dropped. A non-nil err is recorded on the panel
// instead of calling update.
func (c *Controller) apply(gen uint64, panel Panel, err error, update func(v *View)) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if c.opts.Verbose {
			log.Printf("🗑️  dashboard: discarding stale %s result from cycle %d\n", panel, gen)
		}
		return false
	}

	if err != nil {
		c.view.Errors[panel] = err.Error()
	} else {
		update(&c.view)
	}
	c.view.Loaded[panel] = true
	c.view.UpdatedAt = c.opts.Now()
	c.pending--
	pending := c.pending
	c.mu.Unlock()

	if err != nil {
		log.Printf("⚠️  dashboard: %s: %v\n", panel, err)
	} else if c.opts.Verbose {
		log.Printf("✅ dashboard: %s updated (cycle %d, %d pending)\n", panel, gen, pending)
	}

	c.notifySubscribers()
	return true
}

func (c *Controller) metricQuery(metric string, groupBy []string, grid timewindow.Grid) jpm.MetricQuery {
	return jpm.MetricQuery{
		Site:            c.opts.Site,
		Metric:          metric,
		GroupBy:         groupBy,
		AggFn:           jpm.DefaultAggregation,
		IntervalMinutes: grid.IntervalMinutes(),
		Range:           grid.Range(),
	}
}

func (c *Controller) fetchMetric(ctx context.Context, metric string, groupBy []string, grid timewindow.Grid) (*series.SampleSet, error) {
	set, err := c.source.FetchMetricAggregate(ctx, c.metricQuery(metric, groupBy, grid))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, metric, err)
	}
	return set, nil
}

func (c *Controller) fetchJobs(ctx context.Context, gen uint64, r timewindow.Range, _ timewindow.Grid) {
	jobs, err := c.source.FetchJobs(ctx, jpm.JobQuery{
		Site:   c.opts.Site,
		Range:  r,
		Fields: jpm.JobFields,
		Limit:  c.opts.JobLimit,
	})
	if err != nil {
		c.apply(gen, PanelJobs, fmt.Errorf("%w: job list: %w", ErrFetch, err), nil)
		return
	}

	jpm.AnnotateDurations(jobs, c.opts.Now())
	states := jpm.CountStates(jobs)

	c.apply(gen, PanelJobs, nil, func(v *View) {
		v.Jobs = jobs
		v.JobStates = states
	})
}

func (c *Controller) fetchRunningJobs(ctx context.Context, gen uint64, _ timewindow.Range, grid timewindow.Grid) {
	set, err := c.fetchMetric(ctx, jpm.MetricJobCount, []string{"jobType"}, grid)
	if err != nil {
		c.apply(gen, PanelRunningJobs, err, nil)
		return
	}

	trend := series.Merge(set, grid)
	c.apply(gen, PanelRunningJobs, nil, func(v *View) {
		v.RunningJobs = trend
	})
}

func (c *Controller) fetchRunningContainers(ctx context.Context, gen uint64, _ timewindow.Range, grid timewindow.Grid) {
	set, err := c.fetchMetric(ctx, jpm.MetricRunningContainers, []string{"site"}, grid)
	if err != nil {
		c.apply(gen, PanelRunningContainers, err, nil)
		return
	}

	s := series.Sparse(SeriesRunningContainers, set, grid)
	c.apply(gen, PanelRunningContainers, nil, func(v *View) {
		v.RunningContainers = []series.Series{s}
	})
}

func (c *Controller) fetchAllocatedVCores(ctx context.Context, gen uint64, _ timewindow.Range, grid timewindow.Grid) {
	set, err := c.fetchMetric(ctx, jpm.MetricAllocatedVCores, []string{"site"}, grid)
	if err != nil {
		c.apply(gen, PanelAllocatedVCores, err, nil)
		return
	}

	s := series.Sparse(SeriesAllocatedVCores, set, grid)
	c.apply(gen, PanelAllocatedVCores, nil, func(v *View) {
		v.AllocatedVCores = []series.Series{s}
	})
}

// fetchAllocatedMemory joins the allocated and total memory fetches and
// derives the percentage series once both have resolved.
func (c *Controller) fetchAllocatedMemory(ctx context.Context, gen uint64, _ timewindow.Range, grid timewindow.Grid) {
	fetch := func(metric string) func(context.Context) (*series.SampleSet, error) {
		return func(ctx context.Context) (*series.SampleSet, error) {
			return c.fetchMetric(ctx, metric, []string{"site"}, grid)
		}
	}

	allocated, total, err := join2(ctx,
		async(ctx, fetch(jpm.MetricAllocatedMB)),
		async(ctx, fetch(jpm.MetricTotalMemory)),
	)
	if err != nil {
		c.apply(gen, PanelAllocatedMemory, err, nil)
		return
	}

	if !c.current(gen) {
		if c.opts.Verbose {
			log.Printf("🗑️  dashboard: dropping memory join from superseded cycle %d\n", gen)
		}
		return
	}

	num := series.Collapse(SeriesAllocatedMB, allocated, grid)
	den := series.Collapse(SeriesTotalMemory, total, grid)
	pct, err := series.Ratio(SeriesAllocatedMemory, num, den)
	if err != nil {
		log.Printf("❌ dashboard: memory ratio for cycle %d: %v\n", gen, err)
		c.apply(gen, PanelAllocatedMemory, err, nil)
		return
	}
	gb := series.Scale(num, SeriesAllocatedGB, 1.0/1024)

	c.apply(gen, PanelAllocatedMemory, nil, func(v *View) {
		v.AllocatedMemory = []series.Series{pct}
		v.AllocatedMemoryGB = []series.Series{gb}
	})
}

// Subscribe returns a channel signalled (coalescing, non-blocking) whenever
// the view changes, and a function to unsubscribe.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()

	id := c.nextSubscriberID
	c.nextSubscriberID++

	ch := make(chan struct{}, 1)
	c.subscribers[id] = ch

	unsubscribe := func() {
		c.subscriberMu.Lock()
		defer c.subscriberMu.Unlock()
		delete(c.subscribers, id)
	}

	return ch, unsubscribe
}

func (c *Controller) notifySubscribers() {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
