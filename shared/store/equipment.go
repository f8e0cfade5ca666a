package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Equipment status values.
const (
	StatusRun   = "RUN"
	StatusIdle  = "IDLE"
	StatusError = "ERROR"
)

// Equipment is one row of the equipment list.
type Equipment struct {
	ID          int64   `json:"id"`
	EquipmentID string  `json:"equipment_id"`
	Status      string  `json:"status"`
	Production  int64   `json:"production"`
	Efficiency  float64 `json:"efficiency"`
}

const selectEquipment = `SELECT id, equipment_id, status, production, efficiency FROM equipment`

func scanEquipment(row interface{ Scan(...interface{}) error }) (Equipment, error) {
	var e Equipment
	err := row.Scan(&e.ID, &e.EquipmentID, &e.Status, &e.Production, &e.Efficiency)
	return e, err
}

// ListEquipment returns every machine ordered by id.
func (s *Store) ListEquipment(ctx context.Context) ([]Equipment, error) {
	rows, err := s.db.QueryContext(ctx, selectEquipment+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEquipment returns the machine with the given row id.
func (s *Store) GetEquipment(ctx context.Context, id int64) (Equipment, error) {
	e, err := scanEquipment(s.db.QueryRowContext(ctx, s.rebind(selectEquipment+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Equipment{}, ErrNotFound
	}
	return e, err
}

// CreateEquipment adds a machine in RUN state.
func (s *Store) CreateEquipment(ctx context.Context, equipmentID string) (Equipment, error) {
	equipmentID = strings.TrimSpace(equipmentID)
	if equipmentID == "" {
		return Equipment{}, ErrInvalidEquipment
	}
	e := Equipment{EquipmentID: equipmentID, Status: StatusRun, Efficiency: 0.9}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO equipment (equipment_id, status, production, efficiency)
		VALUES (?, ?, ?, ?) RETURNING id`),
		e.EquipmentID, e.Status, e.Production, e.Efficiency,
	).Scan(&e.ID)
	return e, err
}

// UpdateEquipment renames a machine.
func (s *Store) UpdateEquipment(ctx context.Context, id int64, equipmentID string) (Equipment, error) {
	equipmentID = strings.TrimSpace(equipmentID)
	if equipmentID == "" {
		return Equipment{}, ErrInvalidEquipment
	}
	res, err := s.ExecWithRetry(ctx, `UPDATE equipment SET equipment_id = ? WHERE id = ?`, equipmentID, id)
	if err != nil {
		return Equipment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Equipment{}, ErrNotFound
	}
	return s.GetEquipment(ctx, id)
}

// DeleteEquipment removes a machine.
func (s *Store) DeleteEquipment(ctx context.Context, id int64) error {
	res, err := s.ExecWithRetry(ctx, `DELETE FROM equipment WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEquipment returns the number of machines and how many are running.
func (s *Store) CountEquipment(ctx context.Context) (total, active int, err error) {
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM equipment`),
		StatusRun,
	).Scan(&total, &active)
	return total, active, err
}

// EnsureEquipment creates the listed machines that do not exist yet.
func (s *Store) EnsureEquipment(ctx context.Context, ids []string) error {
	existing := make(map[string]bool)
	list, err := s.ListEquipment(ctx)
	if err != nil {
		return err
	}
	for _, e := range list {
		existing[e.EquipmentID] = true
	}
	for _, id := range ids {
		if existing[id] {
			continue
		}
		if _, err := s.CreateEquipment(ctx, id); err != nil {
			return err
		}
		existing[id] = true
		s.logger.WithField("equipment_id", id).Info("Registered equipment")
	}
	return nil
}

// UpdateEquipmentState records the latest reading of a machine on its
// equipment row.
func (s *Store) UpdateEquipmentState(ctx context.Context, equipmentID, status string, production int64, efficiency float64) error {
	_, err := s.ExecWithRetry(ctx, `
		UPDATE equipment SET status = ?, production = ?, efficiency = ?
		WHERE equipment_id = ?`,
		status, production, efficiency, equipmentID)
	return err
}
