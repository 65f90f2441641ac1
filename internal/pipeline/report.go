package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/pointcloud/metrics"
	"github.com/banshee-data/cloudscan/internal/pointcloud/segment"
)

// Report aggregates the output of one run. It is not modified after
// Process returns it.
type Report struct {
	Timestamp       time.Time         `json:"timestamp"`
	OriginalMetrics metrics.Metrics   `json:"original_metrics"`
	FilteredMetrics metrics.Metrics   `json:"filtered_metrics"`
	Segments        []segment.Summary `json:"segments"`
	ProcessingInfo  ProcessingInfo    `json:"processing_info"`

	// Filtered is the cloud produced by the filter stage. It is not
	// serialised.
	Filtered *pointcloud.PointCloud `json:"-"`
}

// ProcessingInfo summarises the run parameters and point counts.
type ProcessingInfo struct {
	NPointsOriginal int `json:"n_points_original"`
	NPointsFiltered int `json:"n_points_filtered"`

	// FilterRatio is NPointsFiltered/NPointsOriginal*100, rounded to two
	// decimal places.
	FilterRatio float64 `json:"filter_ratio"`

	ZMin *float64 `json:"z_min"`
	ZMax *float64 `json:"z_max"`
	K    int      `json:"k"`

	// Iterations and Inertia are zero when the clusterer does not report
	// convergence details.
	Iterations int     `json:"kmeans_iterations,omitempty"`
	Inertia    float64 `json:"kmeans_inertia,omitempty"`
}

// filterRatio returns kept/total as a percentage rounded half away from
// zero to 2 decimal places. A zero total yields 0.
func filterRatio(kept, total int) float64 {
	if total <= 0 {
		return 0
	}
	r, _ := decimal.NewFromInt(int64(kept)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2).
		Float64()
	return r
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Summary renders the report as a short human-readable block.
func (r *Report) Summary() string {
	var b strings.Builder
	info := r.ProcessingInfo

	fmt.Fprintf(&b, "Point cloud analysis (%s)\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "  Original points:  %s\n", formatWithCommas(int64(info.NPointsOriginal)))
	fmt.Fprintf(&b, "  Filtered points:  %s (%.2f%% kept, z in %s)\n",
		formatWithCommas(int64(info.NPointsFiltered)), info.FilterRatio,
		FilterBounds{ZMin: info.ZMin, ZMax: info.ZMax}.ZRange())
	fmt.Fprintf(&b, "  Original volume:  %.3f  density: %.3f\n",
		r.OriginalMetrics.Volume, r.OriginalMetrics.Density)
	fmt.Fprintf(&b, "  Avg point dist:   %.4f\n", r.OriginalMetrics.AvgPointDistance)
	fmt.Fprintf(&b, "  Segments (k=%d):\n", info.K)
	for _, s := range r.Segments {
		if s.Center == nil {
			fmt.Fprintf(&b, "    [%d] %8s points  (empty)\n", s.Label, formatWithCommas(int64(s.NPoints)))
			continue
		}
		c := *s.Center
		fmt.Fprintf(&b, "    [%d] %8s points  center (%.2f, %.2f, %.2f)\n",
			s.Label, formatWithCommas(int64(s.NPoints)), c[0], c[1], c[2])
	}
	return b.String()
}

// formatWithCommas formats an integer with thousands separators.
func formatWithCommas(n int64) string {
	if n < 0 {
		return "-" + formatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}
