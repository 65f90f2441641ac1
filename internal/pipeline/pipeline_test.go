package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudscan/internal/monitoring"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/pointcloud/segment"
	cstest "github.com/banshee-data/cloudscan/internal/testutil"
	"github.com/banshee-data/cloudscan/internal/timeutil"
)

func ptr(v float64) *float64 { return &v }

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestProcessor() *Processor {
	p := NewProcessor(nil)
	p.Clock = timeutil.NewMockClock(fixedTime)
	return p
}

func TestProcess_TwoTierEndToEnd(t *testing.T) {
	const n = 10000
	pc, err := pointcloud.Generate(n, pointcloud.DefaultTwoTier())
	require.NoError(t, err)
	before := pc.Points()

	p := newTestProcessor()
	p.Monitor = monitoring.New()

	report, err := p.Process(context.Background(), pc, FilterBounds{ZMin: ptr(-2), ZMax: ptr(5)}, 5)
	require.NoError(t, err)

	info := report.ProcessingInfo
	assert.Equal(t, n, info.NPointsOriginal)
	assert.Equal(t, n, report.OriginalMetrics.NPoints)
	assert.Less(t, info.NPointsFiltered, n)
	assert.Greater(t, info.NPointsFiltered, 0)
	assert.Equal(t, info.NPointsFiltered, report.FilteredMetrics.NPoints)
	assert.Equal(t, info.NPointsFiltered, report.Filtered.Len())
	assert.InDelta(t, float64(info.NPointsFiltered)/100, info.FilterRatio, 1e-9)
	assert.Equal(t, 5, info.K)
	assert.Greater(t, info.Iterations, 0)
	assert.Equal(t, fixedTime, report.Timestamp)

	require.Len(t, report.Segments, 5)
	total := 0
	for i, s := range report.Segments {
		assert.Equal(t, i, s.Label)
		total += s.NPoints
	}
	assert.Equal(t, n, total, "segmentation runs on the unfiltered cloud")

	for i := 0; i < report.Filtered.Len(); i++ {
		z := report.Filtered.Point(i).Z
		require.True(t, z >= -2 && z <= 5, "filtered point %d has z=%v", i, z)
	}
	assert.Equal(t, before, pc.Points(), "input cloud was modified")

	expected := fmt.Sprintf(`
# HELP cloudscan_points_total Points seen by the processor, by kind
# TYPE cloudscan_points_total counter
cloudscan_points_total{kind="filtered"} %d
cloudscan_points_total{kind="original"} %d
# HELP cloudscan_kmeans_iterations Assignment passes of the most recent winning k-means run
# TYPE cloudscan_kmeans_iterations gauge
cloudscan_kmeans_iterations %d
# HELP cloudscan_runs_total Processing runs by outcome
# TYPE cloudscan_runs_total counter
cloudscan_runs_total{outcome="ok"} 1
`, info.NPointsFiltered, n, info.Iterations)
	assert.NoError(t, testutil.GatherAndCompare(p.Monitor.Registry(), strings.NewReader(expected),
		"cloudscan_points_total", "cloudscan_kmeans_iterations", "cloudscan_runs_total"))
}

func TestProcess_IdentityFilter(t *testing.T) {
	pc := cstest.Grid(t, 4, 4, 4, 1)
	report, err := newTestProcessor().Process(context.Background(), pc, FilterBounds{}, 2)
	require.NoError(t, err)

	assert.Equal(t, 64, report.ProcessingInfo.NPointsFiltered)
	assert.Equal(t, 100.0, report.ProcessingInfo.FilterRatio)
	assert.Equal(t, report.OriginalMetrics, report.FilteredMetrics)
	assert.Nil(t, report.ProcessingInfo.ZMin)
	assert.Nil(t, report.ProcessingInfo.ZMax)
}

func TestProcess_StageErrors(t *testing.T) {
	grid := cstest.Grid(t, 2, 2, 2, 1)
	empty := cstest.Cloud(t)

	tests := []struct {
		name  string
		pc    *pointcloud.PointCloud
		fb    FilterBounds
		k     int
		stage Stage
		kind  error
	}{
		{"empty input", empty, FilterBounds{}, 1, StageOriginalMetrics, pointcloud.ErrEmptyInput},
		{"nil input", nil, FilterBounds{}, 1, StageOriginalMetrics, pointcloud.ErrEmptyInput},
		{"inverted bounds", grid, FilterBounds{ZMin: ptr(3), ZMax: ptr(1)}, 2, StageFilter, pointcloud.ErrInvalidArgument},
		{"everything filtered", grid, FilterBounds{ZMin: ptr(10)}, 2, StageFilteredMetrics, pointcloud.ErrEmptyInput},
		{"k too large", grid, FilterBounds{}, 9, StageSegmentation, pointcloud.ErrInvalidArgument},
		{"k zero", grid, FilterBounds{}, 0, StageSegmentation, pointcloud.ErrInvalidArgument},
		// Both tail stages fail; the earlier stage wins.
		{"both tail stages fail", grid, FilterBounds{ZMax: ptr(-1)}, 0, StageFilteredMetrics, pointcloud.ErrEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor()
			p.Monitor = monitoring.New()

			report, err := p.Process(context.Background(), tt.pc, tt.fb, tt.k)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.NoError(t, testutil.GatherAndCompare(p.Monitor.Registry(), strings.NewReader(`
# HELP cloudscan_runs_total Processing runs by outcome
# TYPE cloudscan_runs_total counter
cloudscan_runs_total{outcome="error"} 1
`), "cloudscan_runs_total"))

			var se *StageError
			require.True(t, errors.As(err, &se), "error %v is not a StageError", err)
			assert.Equal(t, tt.stage, se.Stage)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), string(tt.stage))
		})
	}
}

func TestProcess_SegmentationFailureKeepsItsStage(t *testing.T) {
	pc, err := pointcloud.Generate(10000, pointcloud.DefaultTwoTier())
	require.NoError(t, err)

	// A fast segmentation failure cancels the group while filtered metrics
	// is still running; the cancellation must not replace the real error.
	for i := 0; i < 50; i++ {
		for _, k := range []int{0, pc.Len() + 1} {
			_, err := newTestProcessor().Process(context.Background(), pc, FilterBounds{}, k)
			var se *StageError
			require.True(t, errors.As(err, &se), "error %v is not a StageError", err)
			require.Equal(t, StageSegmentation, se.Stage, "run %d k=%d: %v", i, k, err)
			require.ErrorIs(t, err, pointcloud.ErrInvalidArgument)
			require.NotErrorIs(t, err, context.Canceled)
		}
	}
}

// waitingClusterer blocks until its context ends and reports why.
type waitingClusterer struct{}

func (waitingClusterer) Segment(ctx context.Context, _ *pointcloud.PointCloud, _ int) ([]segment.Segment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcess_MetricsFailureCancelsSegmentation(t *testing.T) {
	p := newTestProcessor()
	p.Clusterer = waitingClusterer{}

	_, err := p.Process(context.Background(), cstest.Grid(t, 2, 2, 2, 1), FilterBounds{ZMin: ptr(10)}, 2)
	var se *StageError
	require.True(t, errors.As(err, &se), "error %v is not a StageError", err)
	assert.Equal(t, StageFilteredMetrics, se.Stage)
	assert.ErrorIs(t, err, pointcloud.ErrEmptyInput)
}

func TestTailError(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	metricsFail := &StageError{Stage: StageFilteredMetrics, Err: pointcloud.ErrEmptyInput}
	metricsCancelled := &StageError{Stage: StageFilteredMetrics, Err: context.Canceled}
	segFail := &StageError{Stage: StageSegmentation, Err: pointcloud.ErrInvalidArgument}
	segCancelled := &StageError{Stage: StageSegmentation, Err: fmt.Errorf("kmeans: %w", context.Canceled)}

	tests := []struct {
		name string
		ctx  context.Context
		errs []error
		want error
	}{
		{"no errors", live, []error{nil, nil}, nil},
		{"segmentation only", live, []error{nil, segFail}, segFail},
		{"sibling cancelled by segmentation", live, []error{metricsCancelled, segFail}, segFail},
		{"sibling cancelled by metrics", live, []error{metricsFail, segCancelled}, metricsFail},
		{"both fail on their own", live, []error{metricsFail, segFail}, metricsFail},
		{"caller cancelled", done, []error{metricsCancelled, segCancelled}, metricsCancelled},
		{"only cancellations, caller live", live, []error{nil, segCancelled}, segCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tailError(tt.ctx, tt.errs...))
		})
	}
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProcessor().Process(ctx, cstest.Grid(t, 2, 2, 2, 1), FilterBounds{}, 2)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageOriginalMetrics, se.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

// plainClusterer wraps k-means behind the bare Clusterer interface so the
// processor cannot use Fit. With overlap set it corrupts the partition.
type plainClusterer struct{ overlap bool }

func (c plainClusterer) Segment(_ context.Context, pc *pointcloud.PointCloud, k int) ([]segment.Segment, error) {
	km := &segment.KMeans{Restarts: 1, Init: segment.FirstPoints{}}
	res, err := km.Fit(context.Background(), pc, k)
	if err != nil {
		return nil, err
	}
	if c.overlap && k > 1 {
		res.Segments[1].Members.Add(0)
		res.Segments[1].NPoints++
	}
	return res.Segments, nil
}

func TestProcess_PlainClusterer(t *testing.T) {
	pc := cstest.Blobs(t, 12, 0.1, pointcloud.Point{}, pointcloud.Point{X: 20})

	report, err := NewProcessor(plainClusterer{}).Process(context.Background(), pc, FilterBounds{}, 2)
	require.NoError(t, err)
	assert.Len(t, report.Segments, 2)
	assert.Zero(t, report.ProcessingInfo.Iterations)

	_, err = NewProcessor(plainClusterer{overlap: true}).Process(context.Background(), pc, FilterBounds{}, 2)
	assert.ErrorIs(t, err, segment.ErrInvalidPartition)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSegmentation, se.Stage)
}

func TestProcess_EmptySegmentReported(t *testing.T) {
	pc := cstest.Cloud(t, pointcloud.Point{X: 0}, pointcloud.Point{X: 10})
	km := &segment.KMeans{
		Restarts: 1,
		Init: segment.InitializerFunc(func(_ []r3.Vec, _ int, _ *rand.Rand) []r3.Vec {
			return []r3.Vec{{X: 5}, {X: 5}}
		}),
	}
	report, err := NewProcessor(km).Process(context.Background(), pc, FilterBounds{}, 2)
	require.NoError(t, err)
	require.Len(t, report.Segments, 2)
	assert.Equal(t, 2, report.Segments[0].NPoints)
	assert.Equal(t, 0, report.Segments[1].NPoints)
	assert.Nil(t, report.Segments[1].Center)
	assert.Nil(t, report.Segments[1].Bounds)
}

func TestFilterRatio(t *testing.T) {
	tests := []struct {
		kept, total int
		want        float64
	}{
		{6543, 10000, 65.43},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 8, 12.5},
		{5, 5, 100},
		{0, 7, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		got := filterRatio(tt.kept, tt.total)
		if got != tt.want {
			t.Errorf("filterRatio(%d, %d) = %v, want %v", tt.kept, tt.total, got, tt.want)
		}
		if math.Abs(got*100-math.Round(got*100)) > 1e-6 {
			t.Errorf("filterRatio(%d, %d) = %v has more than 2 decimals", tt.kept, tt.total, got)
		}
	}
}
