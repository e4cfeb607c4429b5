package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
)

type Attendance struct {
	ID            string     `json:"id"`
	EmployeeID    string     `json:"employee_id"`
	EmployeeName  string     `json:"employee_name,omitempty"`
	WorkDate      time.Time  `json:"work_date"`
	CheckInTime   *time.Time `json:"check_in_time"`
	CheckOutTime  *time.Time `json:"check_out_time"`
	WorkHours     float64    `json:"work_hours"`
	OvertimeHours float64    `json:"overtime_hours"`
	NightHours    float64    `json:"night_hours"`
	IsHoliday     bool       `json:"is_holiday"`
	Status        string     `json:"status"`
	Location      string     `json:"location"`
	Notes         string     `json:"notes"`
}

const attendanceColumns = `a.id::text, a.employee_id::text, a.work_date, a.check_in_time, a.check_out_time,
	a.work_hours::float8, a.overtime_hours::float8, a.night_hours::float8, a.is_holiday, a.status,
	COALESCE(a.location, ''), COALESCE(a.notes, '')`

func scanAttendance(row pgx.Row, extra ...any) (Attendance, error) {
	var a Attendance
	dest := []any{&a.ID, &a.EmployeeID, &a.WorkDate, &a.CheckInTime, &a.CheckOutTime,
		&a.WorkHours, &a.OvertimeHours, &a.NightHours, &a.IsHoliday, &a.Status, &a.Location, &a.Notes}
	err := row.Scan(append(dest, extra...)...)
	return a, err
}

func collectAttendance(rows pgx.Rows, withName bool) ([]Attendance, error) {
	defer rows.Close()
	out := []Attendance{}
	for rows.Next() {
		var name *string
		var a Attendance
		var err error
		if withName {
			a, err = scanAttendance(rows, &name)
		} else {
			a, err = scanAttendance(rows)
		}
		if err != nil {
			return nil, err
		}
		if withName {
			a.EmployeeName = "알 수 없음"
			if name != nil {
				a.EmployeeName = *name
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttendanceOn returns the record for one day, or ErrNotFound.
func (r *Repository) AttendanceOn(ctx context.Context, employeeID string, day time.Time) (Attendance, error) {
	a, err := scanAttendance(r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance a
		WHERE a.employee_id = $1 AND a.work_date = $2
	`, employeeID, day))
	if db.IsNotFound(err) {
		return Attendance{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) CheckIn(ctx context.Context, a Attendance) (Attendance, error) {
	out, err := scanAttendance(r.pool.QueryRow(ctx, `
		INSERT INTO attendance AS a (employee_id, work_date, check_in_time, is_holiday, status, location)
		VALUES ($1, $2, $3, $4, 'present', $5)
		RETURNING `+attendanceColumns,
		a.EmployeeID, a.WorkDate, a.CheckInTime, a.IsHoliday, a.Location))
	if db.IsUniqueViolation(err) {
		return Attendance{}, ErrAlreadyCheckedIn
	}
	return out, err
}

func (r *Repository) CheckOut(ctx context.Context, id string, at time.Time, work, overtime, night float64) (Attendance, error) {
	return scanAttendance(r.pool.QueryRow(ctx, `
		UPDATE attendance AS a
		SET check_out_time = $2, work_hours = $3, overtime_hours = $4, night_hours = $5, updated_at = now()
		WHERE a.id = $1
		RETURNING `+attendanceColumns,
		id, at, work, overtime, night))
}

// UpsertAttendance writes a manual record keyed by (employee, date).
func (r *Repository) UpsertAttendance(ctx context.Context, a Attendance) (Attendance, error) {
	return scanAttendance(r.pool.QueryRow(ctx, `
		INSERT INTO attendance AS a (employee_id, work_date, check_in_time, check_out_time, work_hours,
			overtime_hours, night_hours, is_holiday, status, location, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (employee_id, work_date) DO UPDATE
		SET check_in_time = EXCLUDED.check_in_time,
			check_out_time = EXCLUDED.check_out_time,
			work_hours = EXCLUDED.work_hours,
			overtime_hours = EXCLUDED.overtime_hours,
			night_hours = EXCLUDED.night_hours,
			is_holiday = EXCLUDED.is_holiday,
			status = EXCLUDED.status,
			location = EXCLUDED.location,
			notes = EXCLUDED.notes,
			updated_at = now()
		RETURNING `+attendanceColumns,
		a.EmployeeID, a.WorkDate, a.CheckInTime, a.CheckOutTime, a.WorkHours,
		a.OvertimeHours, a.NightHours, a.IsHoliday, a.Status, a.Location, a.Notes))
}

func (r *Repository) ListAttendance(ctx context.Context, employeeID string, from, to time.Time) ([]Attendance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance a
		WHERE a.employee_id = $1 AND a.work_date BETWEEN $2 AND $3
		ORDER BY a.work_date
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAttendance(rows, false)
}

// ListAllAttendance joins employee names; missing employees read "알 수 없음".
func (r *Repository) ListAllAttendance(ctx context.Context, from, to time.Time) ([]Attendance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+`, e.name
		FROM attendance a
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.work_date BETWEEN $1 AND $2
		ORDER BY a.work_date DESC, e.name
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAttendance(rows, true)
}

func (r *Repository) DeleteAttendance(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PresentDays feeds payroll with the present rows of a period.
func (r *Repository) PresentDays(ctx context.Context, employeeID string, from, to time.Time) ([]payroll.AttendanceDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT work_hours::float8, overtime_hours::float8, night_hours::float8, is_holiday
		FROM attendance
		WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3 AND status = 'present'
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payroll.AttendanceDay
	for rows.Next() {
		var d payroll.AttendanceDay
		if err := rows.Scan(&d.WorkHours, &d.OvertimeHours, &d.NightHours, &d.IsHoliday); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
