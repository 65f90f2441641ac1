// Package pipeline runs the full processing sequence over one cloud and
// assembles the report.
//
// Stage order is fixed: original metrics, filter, filtered metrics and
// segmentation. The last two are independent and run concurrently;
// segmentation always sees the unfiltered cloud. A failing stage aborts the
// run with a *StageError naming it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cloudscan/internal/monitoring"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/pointcloud/filter"
	"github.com/banshee-data/cloudscan/internal/pointcloud/metrics"
	"github.com/banshee-data/cloudscan/internal/pointcloud/segment"
	"github.com/banshee-data/cloudscan/internal/timeutil"
)

// Stage names a processing step.
type Stage string

const (
	StageOriginalMetrics Stage = "original_metrics"
	StageFilter          Stage = "filter"
	StageFilteredMetrics Stage = "filtered_metrics"
	StageSegmentation    Stage = "segmentation"
)

// StageError reports which stage aborted a run. Err keeps the underlying
// kind so errors.Is(err, pointcloud.ErrEmptyInput) works on the result.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FilterBounds are the optional z bounds of the filter stage. A nil bound
// is absent.
type FilterBounds struct {
	ZMin *float64
	ZMax *float64
}

// ZRange returns the filter for these bounds.
func (fb FilterBounds) ZRange() filter.ZRange {
	return filter.NewZRange(fb.ZMin, fb.ZMax)
}

// Processor runs the pipeline. The zero value is not usable; use
// NewProcessor.
type Processor struct {
	Clusterer      segment.Clusterer
	MetricsOptions metrics.Options

	// Monitor receives stage timings and counts. Nil disables recording.
	Monitor *monitoring.Metrics

	// Clock stamps reports and times stages. Nil selects the wall clock.
	Clock timeutil.Clock

	// Logs receives stage diagnostics. Nil is silent. It is also handed to
	// the metrics stages when MetricsOptions carries no logger of its own.
	Logs *pointcloud.Logger
}

// NewProcessor returns a Processor that segments with c. A nil c selects
// segment.DefaultKMeans.
func NewProcessor(c segment.Clusterer) *Processor {
	if c == nil {
		c = segment.DefaultKMeans()
	}
	return &Processor{
		Clusterer: c,
		Clock:     timeutil.RealClock{},
	}
}

func (p *Processor) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

// Process runs every stage over pc and returns the report. pc is never
// modified. Errors are *StageError values naming the stage that failed;
// when both concurrent stages fail on their own the filtered-metrics error
// is returned.
func (p *Processor) Process(ctx context.Context, pc *pointcloud.PointCloud, fb FilterBounds, k int) (*Report, error) {
	report, err := p.process(ctx, pc, fb, k)
	p.Monitor.ObserveRun(err)
	if err != nil {
		p.Logs.Opsf("processing failed: %v", err)
		return nil, err
	}
	return report, nil
}

func (p *Processor) process(ctx context.Context, pc *pointcloud.PointCloud, fb FilterBounds, k int) (*Report, error) {
	if p.Clusterer == nil {
		return nil, &StageError{Stage: StageSegmentation, Err: fmt.Errorf("%w: no clusterer", pointcloud.ErrInvalidArgument)}
	}

	mopts := p.MetricsOptions
	if mopts.Logs == nil {
		mopts.Logs = p.Logs
	}

	var original metrics.Metrics
	err := p.stage(ctx, StageOriginalMetrics, func() error {
		var err error
		original, err = metrics.ComputeWithOptions(pc, mopts)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Monitor.ObservePoints(monitoring.KindOriginal, original.NPoints)

	zr := fb.ZRange()
	var filtered *pointcloud.PointCloud
	err = p.stage(ctx, StageFilter, func() error {
		var (
			stats filter.Stats
			err   error
		)
		filtered, stats, err = zr.FilterWithStats(pc)
		if err == nil {
			p.Logs.Diagf("filter z %s: kept %d/%d (below=%d above=%d)",
				zr, stats.Kept, stats.Processed, stats.BelowMin, stats.AboveMax)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Monitor.ObservePoints(monitoring.KindFiltered, filtered.Len())

	var (
		filteredMetrics    metrics.Metrics
		seg                *segment.Result
		metricsErr, segErr error
	)
	// Filtered metrics runs on the caller's ctx so a segmentation failure
	// never cuts it short; its own failure still cancels segmentation.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metricsErr = p.stage(ctx, StageFilteredMetrics, func() error {
			var err error
			filteredMetrics, err = metrics.ComputeWithOptions(filtered, mopts)
			return err
		})
		return metricsErr
	})
	g.Go(func() error {
		segErr = p.stage(gctx, StageSegmentation, func() error {
			var err error
			seg, err = p.segment(gctx, pc, k)
			return err
		})
		return segErr
	})
	_ = g.Wait()
	if err := tailError(ctx, metricsErr, segErr); err != nil {
		return nil, err
	}
	if seg.Iterations > 0 {
		p.Monitor.SetKMeansIterations(seg.Iterations)
	}

	report := &Report{
		Timestamp:       p.clock().Now(),
		OriginalMetrics: original,
		FilteredMetrics: filteredMetrics,
		Segments:        make([]segment.Summary, len(seg.Segments)),
		ProcessingInfo: ProcessingInfo{
			NPointsOriginal: original.NPoints,
			NPointsFiltered: filtered.Len(),
			FilterRatio:     filterRatio(filtered.Len(), original.NPoints),
			ZMin:            fb.ZMin,
			ZMax:            fb.ZMax,
			K:               k,
			Iterations:      seg.Iterations,
			Inertia:         seg.Inertia,
		},
		Filtered: filtered,
	}
	for i, s := range seg.Segments {
		report.Segments[i] = s.Summary()
	}

	p.Logs.Diagf("processed %d points: kept %d (%.2f%%) with z in %s, %d segments",
		original.NPoints, filtered.Len(), report.ProcessingInfo.FilterRatio, zr, len(seg.Segments))
	return report, nil
}

// tailError picks the error to report from the concurrent tail stages,
// given in stage order. A stage that only saw the group context cancelled
// because its sibling failed is ignored while the caller's ctx is still
// live, so the sibling's own failure is reported. When several stages fail
// on their own the earliest stage wins.
func tailError(ctx context.Context, errs ...error) error {
	var collateral error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() == nil && errors.Is(err, context.Canceled) {
			if collateral == nil {
				collateral = err
			}
			continue
		}
		return err
	}
	return collateral
}

// stage checks ctx, runs fn and wraps any failure as a *StageError. The
// elapsed time is recorded on the monitor whether or not fn fails.
func (p *Processor) stage(ctx context.Context, name Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	clock := p.clock()
	start := clock.Now()
	err := fn()
	elapsed := clock.Since(start)
	p.Monitor.ObserveStage(string(name), elapsed)
	p.Logs.Tracef("stage %s took %s", name, elapsed)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return se
		}
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// segment runs the clusterer, using Fit for convergence details when the
// clusterer offers it.
func (p *Processor) segment(ctx context.Context, pc *pointcloud.PointCloud, k int) (*segment.Result, error) {
	if f, ok := p.Clusterer.(segment.Fitter); ok {
		return f.Fit(ctx, pc, k)
	}
	segs, err := p.Clusterer.Segment(ctx, pc, k)
	if err != nil {
		return nil, err
	}
	if len(segs) != k {
		return nil, fmt.Errorf("%w: clusterer returned %d segments, want %d",
			segment.ErrInvalidPartition, len(segs), k)
	}
	if err := segment.CheckPartition(segs, pc.Len()); err != nil {
		return nil, err
	}
	return &segment.Result{Segments: segs}, nil
}
