package reportdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cloudscan/internal/pipeline"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/timeutil"
)

// ErrNotFound is returned when no report has the requested ID.
var ErrNotFound = errors.New("report not found")

// Record is an archived report with its index columns.
type Record struct {
	ID              string           `json:"report_id"`
	CreatedAt       int64            `json:"created_at"`
	NPointsOriginal int              `json:"n_points_original"`
	NPointsFiltered int              `json:"n_points_filtered"`
	FilterRatio     float64          `json:"filter_ratio"`
	K               int              `json:"k"`
	Report          *pipeline.Report `json:"report"`
}

// ReportStore provides persistence for processing reports.
type ReportStore struct {
	db    *sql.DB
	clock timeutil.Clock
	logs  *pointcloud.Logger
}

// NewReportStore creates a new ReportStore over a migrated database.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db.DB, clock: timeutil.RealClock{}, logs: db.Logs}
}

// Insert archives report and returns the new record ID.
func (s *ReportStore) Insert(ctx context.Context, report *pipeline.Report) (string, error) {
	if report == nil {
		return "", errors.New("insert report: nil report")
	}
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}

	id := uuid.New().String()
	info := report.ProcessingInfo
	err := retryOnBusy(s.logs, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cloudscan_reports (
				report_id, created_at, report_timestamp,
				n_points_original, n_points_filtered, filter_ratio, k,
				report_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, s.clock.Now().UnixNano(), report.Timestamp.UTC().Format(time.RFC3339Nano),
			info.NPointsOriginal, info.NPointsFiltered, info.FilterRatio, info.K,
			buf.String(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting report %s: %w", id, err)
	}
	return id, nil
}

// Get returns the record with id, or ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, created_at, n_points_original, n_points_filtered,
		       filter_ratio, k, report_json
		FROM cloudscan_reports
		WHERE report_id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *ReportStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, created_at, n_points_original, n_points_filtered,
		       filter_ratio, k, report_json
		FROM cloudscan_reports
		ORDER BY created_at DESC, report_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes the record with id, or returns ErrNotFound.
func (s *ReportStore) Delete(ctx context.Context, id string) error {
	return retryOnBusy(s.logs, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM cloudscan_reports WHERE report_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec     Record
		payload string
	)
	err := sc.Scan(&rec.ID, &rec.CreatedAt, &rec.NPointsOriginal, &rec.NPointsFiltered,
		&rec.FilterRatio, &rec.K, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	var report pipeline.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.ID, err)
	}
	rec.Report = &report
	return &rec, nil
}
