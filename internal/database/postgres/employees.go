package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/facetrack/internal/database"
)

// EmployeeRepository provides PostgreSQL-backed employee metadata.
type EmployeeRepository struct {
	pool *Pool
}

// NewEmployeeRepository creates a new PostgreSQL employee repository.
func NewEmployeeRepository(pool *Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

const employeeColumns = "id, name, department, designation, email, phone, is_active, created_at"

func scanEmployee(scanner interface{ Scan(...any) error }) (database.Employee, error) {
	var e database.Employee
	err := scanner.Scan(&e.ID, &e.Name, &e.Department, &e.Designation, &e.Email, &e.Phone, &e.Active, &e.CreatedAt)
	return e, err
}

// GetEmployee returns database.ErrNotFound for an unknown ID.
func (r *EmployeeRepository) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("employee %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return &e, nil
}

// GetAllEmployees returns active employees ordered by ID.
func (r *EmployeeRepository) GetAllEmployees(ctx context.Context) ([]database.Employee, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+employeeColumns+" FROM employees WHERE is_active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []database.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// SaveEmployee inserts or updates an employee and reactivates it.
func (r *EmployeeRepository) SaveEmployee(ctx context.Context, emp database.Employee) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO employees (id, name, department, designation, email, phone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			designation = EXCLUDED.designation,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			is_active = TRUE,
			updated_at = NOW()
	`, emp.ID, emp.Name, emp.Department, emp.Designation, emp.Email, emp.Phone)
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

// DeactivateEmployee marks an employee inactive.
func (r *EmployeeRepository) DeactivateEmployee(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "UPDATE employees SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate employee: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("employee %s: %w", id, database.ErrNotFound)
	}
	return nil
}
