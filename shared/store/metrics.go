package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// TimeLayout is the fixed-width UTC layout timestamps are stored in, so
// string order matches time order on every driver.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTS renders t in TimeLayout.
func FormatTS(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTS parses a stored timestamp.
func ParseTS(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// Metric is one stored reading. Production is the day's cumulative count.
type Metric struct {
	ID          int64
	EquipmentID string
	Status      string
	Production  int64
	Efficiency  float64
	TS          time.Time
}

var metricColumns = []string{"equipment_id", "status", "production", "efficiency", "ts"}

const selectMetric = `SELECT id, equipment_id, status, production, efficiency, ts FROM metrics`

func scanMetrics(rows *sql.Rows) ([]Metric, error) {
	defer rows.Close()
	var out []Metric
	for rows.Next() {
		var m Metric
		var ts string
		if err := rows.Scan(&m.ID, &m.EquipmentID, &m.Status, &m.Production, &m.Efficiency, &ts); err != nil {
			return nil, err
		}
		t, err := ParseTS(ts)
		if err != nil {
			return nil, fmt.Errorf("metric %d: %w", m.ID, err)
		}
		m.TS = t
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMetrics stores rows and returns how many were new. PostgreSQL uses
// COPY and falls back to row inserts when the batch repeats a stored
// (equipment_id, ts) pair.
func (s *Store) InsertMetrics(ctx context.Context, rows []Metric) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if s.driver == DriverPostgres {
		err := s.copyMetrics(ctx, rows)
		if err == nil {
			return len(rows), nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		s.logger.WithField("rows", len(rows)).Debug("Batch repeats stored readings, inserting row by row")
	}
	return s.insertEach(ctx, rows)
}

func (s *Store) copyMetrics(ctx context.Context, rows []Metric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("metrics", metricColumns...))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx, m.EquipmentID, m.Status, m.Production, m.Efficiency, FormatTS(m.TS)); err != nil {
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) insertEach(ctx context.Context, rows []Metric) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO metrics (equipment_id, status, production, efficiency, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (equipment_id, ts) DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range rows {
		res, err := stmt.ExecContext(ctx, m.EquipmentID, m.Status, m.Production, m.Efficiency, FormatTS(m.TS))
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, tx.Commit()
}

// LatestMetric returns the most recent row.
func (s *Store) LatestMetric(ctx context.Context) (Metric, error) {
	rows, err := s.db.QueryContext(ctx, selectMetric+` ORDER BY ts DESC, id DESC LIMIT 1`)
	if err != nil {
		return Metric{}, err
	}
	ms, err := scanMetrics(rows)
	if err != nil {
		return Metric{}, err
	}
	if len(ms) == 0 {
		return Metric{}, ErrNotFound
	}
	return ms[0], nil
}

// DailyProduction sums every machine's highest cumulative count since since.
func (s *Store) DailyProduction(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(SUM(p), 0) FROM (
			SELECT MAX(production) AS p FROM metrics WHERE ts >= ? GROUP BY equipment_id
		) per_machine`), FormatTS(since)).Scan(&total)
	return total, err
}

// RecentBatches returns every row of the newest batches timestamps at or
// after since, oldest first. A zero since means no lower bound.
func (s *Store) RecentBatches(ctx context.Context, since time.Time, batches int) ([]Metric, error) {
	lower := ""
	if !since.IsZero() {
		lower = FormatTS(since)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectMetric+`
		WHERE ts IN (SELECT DISTINCT ts FROM metrics WHERE ts >= ? ORDER BY ts DESC LIMIT ?)
		ORDER BY ts ASC, equipment_id ASC`), lower, batches)
	if err != nil {
		return nil, err
	}
	return scanMetrics(rows)
}

// MetricsSince returns rows at or after since grouped by equipment, in time
// order.
func (s *Store) MetricsSince(ctx context.Context, since time.Time) ([]Metric, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectMetric+`
		WHERE ts >= ? ORDER BY equipment_id ASC, ts ASC, id ASC`), FormatTS(since))
	if err != nil {
		return nil, err
	}
	return scanMetrics(rows)
}

// LastProductionSince returns the newest cumulative count of equipmentID at
// or after since and its timestamp. Both are zero when there is no such row.
func (s *Store) LastProductionSince(ctx context.Context, equipmentID string, since time.Time) (int64, time.Time, error) {
	var (
		production int64
		ts         string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT production, ts FROM metrics
		WHERE equipment_id = ? AND ts >= ?
		ORDER BY ts DESC, id DESC LIMIT 1`), equipmentID, FormatTS(since)).Scan(&production, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	at, err := ParseTS(ts)
	return production, at, err
}
