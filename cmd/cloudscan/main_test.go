package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cloudscan/internal/config"
	"github.com/banshee-data/cloudscan/internal/fsutil"
	"github.com/banshee-data/cloudscan/internal/ingest"
	"github.com/banshee-data/cloudscan/internal/pipeline"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/pointcloud/segment"
	"github.com/banshee-data/cloudscan/internal/reportdb"
	"github.com/banshee-data/cloudscan/internal/security"
)

func mustParse(t *testing.T, args ...string) Config {
	t.Helper()
	cfg, err := parseFlags(args, io.Discard)
	require.NoError(t, err)
	return cfg
}

func TestParseFlags(t *testing.T) {
	cfg := mustParse(t, "-n", "200", "-k", "3", "-no-zmax", "-output", "out.json.gz")
	assert.Equal(t, 200, cfg.NPoints)
	assert.Equal(t, 3, cfg.K)
	assert.True(t, cfg.NoZMax)
	assert.Equal(t, "out.json.gz", cfg.Output)
	assert.Equal(t, map[string]bool{"n": true, "k": true, "no-zmax": true, "output": true}, cfg.set)

	_, err := parseFlags([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))

	_, err = parseFlags([]string{"stray"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-k", "many"}, io.Discard)
	assert.Error(t, err)
}

func TestResolveRunConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("k: 7\nrestarts: 3\nz_min: -1\n"), 0o644))

	t.Run("file only", func(t *testing.T) {
		rc, err := resolveRunConfig(mustParse(t, "-config", path))
		require.NoError(t, err)
		assert.Equal(t, 7, rc.GetK())
		assert.Equal(t, 3, rc.GetRestarts())
		lo, hi := rc.GetZBounds()
		require.NotNil(t, lo)
		require.NotNil(t, hi)
		assert.Equal(t, -1.0, *lo)
		assert.Equal(t, 5.0, *hi)
	})

	t.Run("explicit flags win", func(t *testing.T) {
		rc, err := resolveRunConfig(mustParse(t, "-config", path, "-k", "2", "-no-zmin"))
		require.NoError(t, err)
		assert.Equal(t, 2, rc.GetK())
		assert.Equal(t, 3, rc.GetRestarts())
		lo, _ := rc.GetZBounds()
		assert.Nil(t, lo)
	})

	t.Run("flag defaults do not override the file", func(t *testing.T) {
		rc, err := resolveRunConfig(mustParse(t, "-config", path, "-n", "50"))
		require.NoError(t, err)
		assert.Equal(t, 7, rc.GetK())
		assert.Equal(t, 50, rc.GetNPoints())
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := resolveRunConfig(mustParse(t, "-zmin", "6", "-zmax", "1"))
		assert.Error(t, err)
		_, err = resolveRunConfig(mustParse(t, "-init", "best"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := resolveRunConfig(mustParse(t, "-config", filepath.Join(dir, "nope.json")))
		assert.Error(t, err)
	})
}

func TestNewClusterer(t *testing.T) {
	rc, err := resolveRunConfig(mustParse(t, "-init", config.InitRandom, "-restarts", "4", "-seed", "9"))
	require.NoError(t, err)
	km := newClusterer(rc, nil)
	assert.IsType(t, segment.RandomPoints{}, km.Init)
	assert.Equal(t, 4, km.Restarts)
	assert.Equal(t, uint64(9), km.Seed)

	rc, err = resolveRunConfig(mustParse(t))
	require.NoError(t, err)
	assert.IsType(t, segment.KMeansPlusPlus{}, newClusterer(rc, nil).Init)
}

func TestRun_Generated(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "reports.db")
	promPath := filepath.Join(dir, "cloudscan.prom")

	cfg := mustParse(t,
		"-n", "600", "-k", "3", "-restarts", "2",
		"-output", "out/report.json.zst",
		"-pcd-out", "out/filtered.pcd",
		"-db", dbPath,
		"-metrics-textfile", promPath,
	)
	fsys := fsutil.NewMemoryFileSystem()
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, fsys, &stdout))

	report, err := pipeline.ReadReportFile(fsys, "out/report.json.zst")
	require.NoError(t, err)
	assert.Equal(t, 600, report.ProcessingInfo.NPointsOriginal)
	assert.Equal(t, 3, report.ProcessingInfo.K)
	assert.Len(t, report.Segments, 3)

	filtered, err := ingest.ReadFile(fsys, "out/filtered.pcd", ingest.CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, report.ProcessingInfo.NPointsFiltered, filtered.Len())

	out := stdout.String()
	assert.Contains(t, out, "Segments (k=3)")
	assert.Contains(t, out, "Report written to out/report.json.zst")
	assert.Contains(t, out, "Report archived as ")

	db, err := reportdb.Open(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()
	recs, err := reportdb.NewReportStore(db).List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 600, recs[0].NPointsOriginal)

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `cloudscan_runs_total{outcome="ok"} 1`)
}

func writeSamples(t *testing.T, fsys *fsutil.MemoryFileSystem, rows ...string) {
	t.Helper()
	w, err := fsys.Create("samples.csv")
	require.NoError(t, err)
	_, err = io.WriteString(w, strings.Join(rows, "\n")+"\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestRun_CSVInput(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeSamples(t, fsys,
		"robot_id,position_x,position_y,position_z,sensor_status",
		"R1,0,0,0,OK",
		"R1,1,0,0,OK",
		"R1,10,0,0,OK",
		"R1,11,0,0,WARNING",
		"R1,99,99,99,ERROR",
	)

	cfg := mustParse(t, "-input", "samples.csv", "-k", "2", "-no-zmin", "-no-zmax")
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, fsys, &stdout))

	report, err := pipeline.ReadReportFile(fsys, "pointcloud_analysis.json")
	require.NoError(t, err)
	assert.Equal(t, 4, report.ProcessingInfo.NPointsOriginal)
	assert.Equal(t, 4, report.ProcessingInfo.NPointsFiltered)
	for _, s := range report.Segments {
		assert.Equal(t, 2, s.NPoints)
	}
}

func TestRun_RobotFilter(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeSamples(t, fsys,
		"robot_id,position_x,position_y,position_z,sensor_status",
		"R1,0,0,0,OK",
		"R2,1,0,0,OK",
		"R1,10,0,0,OK",
		"R2,11,0,0,OK",
		"R1,20,0,0,OK",
	)

	cfg := mustParse(t, "-input", "samples.csv", "-robot-id", "R1", "-k", "1", "-no-zmin", "-no-zmax")
	require.NoError(t, run(context.Background(), cfg, fsys, io.Discard))

	report, err := pipeline.ReadReportFile(fsys, "pointcloud_analysis.json")
	require.NoError(t, err)
	assert.Equal(t, 3, report.ProcessingInfo.NPointsOriginal)
	assert.Equal(t, [3]float64{10, 0, 0}, report.OriginalMetrics.Center)
}

func TestRun_LogsToCallerSink(t *testing.T) {
	var ops, diag bytes.Buffer
	cfg := mustParse(t, "-n", "300", "-k", "2", "-restarts", "1")
	cfg.logs = pointcloud.NewLogger(pointcloud.LogWriters{Ops: &ops, Diag: &diag})

	require.NoError(t, run(context.Background(), cfg, fsutil.NewMemoryFileSystem(), io.Discard))
	out := diag.String()
	assert.Contains(t, out, "generated cloud: 300 points")
	assert.Contains(t, out, "filter z [-2, 5]")
	assert.Contains(t, out, "kmeans: 300 points into 2 segments")
	assert.Contains(t, out, "processed 300 points")

	// Without a sink the same run stays silent and still succeeds.
	require.NoError(t, run(context.Background(), mustParse(t, "-n", "300", "-k", "2", "-restarts", "1"),
		fsutil.NewMemoryFileSystem(), io.Discard))
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"k larger than cloud", []string{"-n", "10", "-k", "11"}},
		{"everything filtered", []string{"-n", "100", "-zmin", "50", "-zmax", "60"}},
		{"missing input", []string{"-input", "absent.pcd"}},
		{"unknown input format", []string{"-input", "cloud.las"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			err := run(context.Background(), mustParse(t, tt.args...), fsys, io.Discard)
			require.Error(t, err)
			assert.False(t, fsys.Exists("pointcloud_analysis.json"), "report written despite failure")
		})
	}
}

func TestRun_OutputRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	ok := mustParse(t, "-n", "200", "-k", "2", "-restarts", "1",
		"-output-root", root,
		"-output", filepath.Join(root, "report.json"),
		"-pcd-out", filepath.Join(root, "clouds", "filtered.pcd"))
	require.NoError(t, run(context.Background(), ok, fsutil.OSFileSystem{}, io.Discard))
	assert.FileExists(t, filepath.Join(root, "report.json"))
	assert.FileExists(t, filepath.Join(root, "clouds", "filtered.pcd"))

	escaping := mustParse(t, "-n", "200", "-k", "2",
		"-output-root", root,
		"-output", filepath.Join(root, "report.json"),
		"-db", filepath.Join(outside, "reports.db"))
	err := run(context.Background(), escaping, fsutil.OSFileSystem{}, io.Discard)
	assert.ErrorIs(t, err, security.ErrOutsideRoot)
	assert.NoFileExists(t, filepath.Join(outside, "reports.db"))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, mustParse(t, "-n", "100"), fsutil.NewMemoryFileSystem(), io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}
