// Package ingest loads point clouds from upstream sources: the sensor
// sample CSV exported by the data pipeline and PCD files.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// Position columns accepted for each axis, in lookup order.
var axisColumns = [3][]string{
	{"position_x", "x"},
	{"position_y", "y"},
	{"position_z", "z"},
}

const statusColumn = "sensor_status"

// CSVOptions tunes ReadSensorCSV.
type CSVOptions struct {
	// SkipErrorRows drops rows whose sensor_status is ERROR.
	SkipErrorRows bool

	// RobotID keeps only rows whose robot_id matches. Empty keeps all.
	RobotID string

	// DefaultColor is used when the file has no r,g,b columns.
	DefaultColor pointcloud.Color

	// Logs receives load summaries. Nil is silent.
	Logs *pointcloud.Logger
}

// CSVStats counts what ReadSensorCSV did with each data row.
type CSVStats struct {
	Rows           int
	Loaded         int
	SkippedError   int
	SkippedRobotID int
}

// ReadSensorCSV reads a header-led CSV of sensor samples. Position columns
// are position_x/position_y/position_z (or x/y/z); r,g,b columns are
// optional and must all be present if any is. Malformed values fail with
// pointcloud.ErrInvalidArgument naming the 1-based line.
func ReadSensorCSV(r io.Reader, opts CSVOptions) (*pointcloud.PointCloud, CSVStats, error) {
	var stats CSVStats

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, fmt.Errorf("%w: csv has no header", pointcloud.ErrInvalidArgument)
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read csv header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols := indexColumns(header)

	var pos [3]int
	for axis, names := range axisColumns {
		pos[axis] = lookup(cols, names...)
		if pos[axis] < 0 {
			return nil, stats, fmt.Errorf("%w: csv has no %s column",
				pointcloud.ErrInvalidArgument, names[0])
		}
	}
	rgb := [3]int{lookup(cols, "r"), lookup(cols, "g"), lookup(cols, "b")}
	hasColor := rgb[0] >= 0 && rgb[1] >= 0 && rgb[2] >= 0
	if !hasColor && (rgb[0] >= 0 || rgb[1] >= 0 || rgb[2] >= 0) {
		return nil, stats, fmt.Errorf("%w: csv needs all of r,g,b or none", pointcloud.ErrInvalidArgument)
	}
	status := lookup(cols, statusColumn)
	robot := lookup(cols, "robot_id")
	if opts.RobotID != "" && robot < 0 {
		return nil, stats, fmt.Errorf("%w: csv has no robot_id column", pointcloud.ErrInvalidArgument)
	}

	var (
		points []pointcloud.Point
		colors []pointcloud.Color
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		stats.Rows++

		if opts.SkipErrorRows && status >= 0 && strings.EqualFold(rec[status], "ERROR") {
			stats.SkippedError++
			continue
		}
		if opts.RobotID != "" && rec[robot] != opts.RobotID {
			stats.SkippedRobotID++
			continue
		}

		var v [3]float64
		for axis, idx := range pos {
			v[axis], err = strconv.ParseFloat(rec[idx], 64)
			if err != nil || math.IsNaN(v[axis]) || math.IsInf(v[axis], 0) {
				return nil, stats, fmt.Errorf("%w: line %d: %s=%q is not a finite number",
					pointcloud.ErrInvalidArgument, line, header[idx], rec[idx])
			}
		}
		c := opts.DefaultColor
		if hasColor {
			var ch [3]uint8
			for i, idx := range rgb {
				n, err := strconv.ParseUint(rec[idx], 10, 8)
				if err != nil {
					return nil, stats, fmt.Errorf("%w: line %d: %s=%q is not a colour channel",
						pointcloud.ErrInvalidArgument, line, header[idx], rec[idx])
				}
				ch[i] = uint8(n)
			}
			c = pointcloud.Color{R: ch[0], G: ch[1], B: ch[2]}
		}

		points = append(points, pointcloud.Point{X: v[0], Y: v[1], Z: v[2]})
		colors = append(colors, c)
	}
	stats.Loaded = len(points)

	pc, err := pointcloud.New(points, colors)
	if err != nil {
		return nil, stats, err
	}
	opts.Logs.Diagf("csv: loaded %d of %d rows (error=%d robot=%d)",
		stats.Loaded, stats.Rows, stats.SkippedError, stats.SkippedRobotID)
	return pc, stats, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

// lookup returns the index of the first name present in cols, or -1.
func lookup(cols map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}
