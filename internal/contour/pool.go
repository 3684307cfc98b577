package contour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/logging"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
	"github.com/ngce-pmdm/contour-builder/internal/status"
)

// ErrMissingArtifact marks a unit that reported success without leaving a
// usable final artifact.
var ErrMissingArtifact = errors.New("final artifact missing or empty")

// Runner derives a single unit.
type Runner interface {
	Run(ctx context.Context, unit SpatialUnit, pass int) UnitResult
}

// PoolSize returns configured when positive, otherwise the CPU count less
// the handicap, never below one.
func PoolSize(configured, cpuHandicap int) int {
	if configured > 0 {
		return configured
	}
	return max(runtime.NumCPU()-cpuHandicap, 1)
}

// Pool fans units out over a fixed set of worker goroutines. After each
// pass it checks every unit's artifact itself and reruns only the units
// that did not produce one.
type Pool struct {
	runner    Runner
	engine    geo.Engine
	ws        Workspace
	status    status.Manager
	workers   int
	maxPasses int
	project   string
	logger    *slog.Logger
}

func NewPool(runner Runner, engine geo.Engine, ws Workspace, st status.Manager, workers, maxPasses int, project string) *Pool {
	return &Pool{
		runner:    runner,
		engine:    engine,
		ws:        ws,
		status:    st,
		workers:   max(workers, 1),
		maxPasses: max(maxPasses, 1),
		project:   project,
		logger:    slog.With("component", "pool"),
	}
}

// Run processes units and returns one result per unit, in sequence order,
// along with the number of passes made.
func (p *Pool) Run(ctx context.Context, units []SpatialUnit) ([]UnitResult, int) {
	final := make(map[string]UnitResult, len(units))
	pending := units
	passes := 0

	for pass := 1; pass <= p.maxPasses && len(pending) > 0; pass++ {
		if pass > 1 && ctx.Err() != nil {
			break
		}
		passes = pass
		p.logger.Info("creating contours", "pass", pass, "units", len(pending), "workers", min(p.workers, len(pending)))

		var retry []SpatialUnit
		for _, res := range p.runPass(ctx, pending, pass) {
			res = p.verify(ctx, res)
			final[res.Unit] = res
			if !res.OK() {
				retry = append(retry, unitByName(pending, res.Unit))
			}
		}
		pending = retry
		if len(pending) > 0 {
			p.logger.Warn("units without output after pass", "pass", pass, "count", len(pending))
		}
	}

	if m := metrics.Get(); m != nil {
		m.SetPasses(metrics.Labels{Project: p.project}, float64(passes))
	}

	out := make([]UnitResult, 0, len(final))
	for _, r := range final {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, passes
}

// runPass blocks until every unit of the pass has a result.
func (p *Pool) runPass(ctx context.Context, units []SpatialUnit, pass int) []UnitResult {
	tasks := make(chan SpatialUnit)
	results := make(chan UnitResult, len(units))

	var g errgroup.Group
	for i := 0; i < min(p.workers, len(units)); i++ {
		workerID := i
		g.Go(func() error {
			log := logging.WorkerLogger(workerID)
			for u := range tasks {
				log.Debug("unit assigned", "unit", u.Name, "pass", pass)
				results <- p.runUnit(ctx, u, pass)
			}
			return nil
		})
	}

	go func() {
		defer close(tasks)
		for i, u := range units {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case tasks <- u:
			}
			if m := metrics.Get(); m != nil {
				m.SetQueuedUnits(float64(len(units) - i - 1))
			}
		}
	}()

	go func() {
		_ = g.Wait()
		close(results)
	}()

	got := make(map[string]UnitResult, len(units))
	for r := range results {
		got[r.Unit] = r
	}

	out := make([]UnitResult, 0, len(units))
	for _, u := range units {
		r, ok := got[u.Name]
		if !ok {
			r = UnitResult{Unit: u.Name, Sequence: u.Sequence, Pass: pass, State: UnitFailed}
			r.setErr(fmt.Errorf("not dispatched: %w", context.Cause(ctx)))
		}
		out = append(out, r)
	}
	return out
}

// runUnit shields the pool from a panicking runner.
func (p *Pool) runUnit(ctx context.Context, u SpatialUnit, pass int) (res UnitResult) {
	if m := metrics.Get(); m != nil {
		m.IncInFlightUnits()
		defer m.DecInFlightUnits()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unit panicked", "unit", u.Name, "panic", r)
			res = UnitResult{Unit: u.Name, Sequence: u.Sequence, Pass: pass, State: UnitFailed}
			res.setErr(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.runner.Run(ctx, u, pass)
}

// verify checks a reported success against the scratch root. An empty
// artifact is removed so the next pass rebuilds it.
func (p *Pool) verify(ctx context.Context, res UnitResult) UnitResult {
	if res.State != UnitDone {
		return res
	}

	final := p.ws.Final(res.Unit)
	fail := func(err error) UnitResult {
		p.logger.Warn("unit reported done without output", "unit", res.Unit, "error", err)
		res.State = UnitFailed
		res.Artifact = ""
		res.setErr(err)
		rec := status.Record{
			Unit:      res.Unit,
			State:     status.StateFailed,
			Attempts:  res.Attempts,
			Pass:      res.Pass,
			LastError: err.Error(),
			UpdatedAt: time.Now().UTC(),
		}
		if serr := p.status.Save(context.WithoutCancel(ctx), rec); serr != nil {
			p.logger.Warn("failed to save unit status", "unit", res.Unit, "error", serr)
		}
		return res
	}

	if !p.engine.Exists(final) {
		return fail(ErrMissingArtifact)
	}
	n, err := p.engine.CountRows(ctx, final)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrMissingArtifact, err))
	}
	if n <= 0 {
		if err := p.engine.Delete(final); err != nil {
			p.logger.Warn("failed to delete empty artifact", "unit", res.Unit, "error", err)
		}
		return fail(ErrMissingArtifact)
	}
	res.Features = n
	return res
}

func unitByName(units []SpatialUnit, name string) SpatialUnit {
	for _, u := range units {
		if u.Name == name {
			return u
		}
	}
	return SpatialUnit{Name: name}
}
