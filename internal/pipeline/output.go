package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/cloudscan/internal/fsutil"
)

// Compression is the container format of a report file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// CompressionForPath picks the format from the file extension: ".gz" is
// gzip, ".zst" is zstd, anything else is plain JSON.
func CompressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// WriteReportFile writes r to path, creating parent directories and
// compressing according to CompressionForPath.
func WriteReportFile(fsys fsutil.FileSystem, path string, r *Report) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report file: %w", cerr)
		}
	}()

	var w io.WriteCloser
	switch CompressionForPath(path) {
	case CompressionGzip:
		w = gzip.NewWriter(f)
	case CompressionZstd:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = enc
	default:
		return r.WriteJSON(f)
	}

	if err := r.WriteJSON(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flush compressed report: %w", err)
	}
	return nil
}

// ReadReportFile loads a report written by WriteReportFile.
func ReadReportFile(fsys fsutil.FileSystem, path string) (*Report, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	switch CompressionForPath(path) {
	case CompressionGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip report: %w", err)
		}
		defer zr.Close()
		src = zr
	case CompressionZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd report: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	var r Report
	if err := json.NewDecoder(src).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
