package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance records.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = "id, event_id, employee_id, camera_id, event_type, timestamp, confidence, work_status, zone"

func scanAttendance(scanner interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var eventType string
	err := scanner.Scan(&rec.ID, &rec.EventID, &rec.EmployeeID, &rec.CameraID, &eventType,
		&rec.Timestamp, &rec.Confidence, &rec.WorkStatus, &rec.Zone)
	rec.EventType = database.EventType(eventType)
	return rec, err
}

// CreateAttendanceRecord inserts a record and returns its ID.
func (r *AttendanceRepository) CreateAttendanceRecord(ctx context.Context, rec database.AttendanceRecord) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance_records (event_id, employee_id, camera_id, event_type, timestamp, confidence, work_status, zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, rec.EventID, rec.EmployeeID, rec.CameraID, string(rec.EventType), rec.Timestamp,
		rec.Confidence, rec.WorkStatus, rec.Zone).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("employee %s: %w", rec.EmployeeID, database.ErrNotFound)
		}
		return 0, fmt.Errorf("insert attendance record: %w", err)
	}
	return id, nil
}

// GetLatestAttendance returns the newest valid record within lookback, or nil.
func (r *AttendanceRepository) GetLatestAttendance(ctx context.Context, employeeID string, lookback time.Duration) (*database.AttendanceRecord, error) {
	since := time.Now().Add(-lookback)
	row := r.pool.QueryRow(ctx, "SELECT "+attendanceColumns+`
		FROM attendance_records
		WHERE employee_id = $1 AND is_valid AND timestamp >= $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, employeeID, since)

	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest attendance: %w", err)
	}
	return &rec, nil
}

// ListAttendance returns records matching the filter, newest first.
func (r *AttendanceRepository) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	where := []string{"is_valid"}
	var args []any
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		where = append(where, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		where = append(where, fmt.Sprintf("timestamp < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := "SELECT " + attendanceColumns + " FROM attendance_records WHERE " +
		strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}
