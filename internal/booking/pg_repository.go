package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.CounsellorID,
		&s.StudentID,
		&s.StartTime,
		&s.EndTime,
		&s.Price,
		&s.Booked,
		&s.Cancelled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.CounsellorID,
		&a.SlotID,
		&a.AppointmentTime,
		&a.Status,
		&a.CreatedAt,
		&a.ExpiresAt,
		&a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var gatewayPaymentID *string
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.Amount,
		&p.Status,
		&p.GatewayOrderID,
		&gatewayPaymentID,
		&p.GatewayName,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if gatewayPaymentID != nil {
		p.GatewayPaymentID = *gatewayPaymentID
	}
	return &p, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

const (
	userCols        = "id, name, email, role, password_hash, created_at"
	slotCols        = "id, counsellor_id, student_id, start_time, end_time, price, booked, cancelled"
	appointmentCols = "id, student_id, counsellor_id, slot_id, appointment_time, status, created_at, expires_at, version"
	paymentCols     = "id, appointment_id, amount, status, gateway_order_id, gateway_payment_id, gateway_name, created_at"
)

// Repository methods (no locks)

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return getUserByID(ctx, r.pool, id)
}

func (r *PgRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userCols+`
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func (r *PgRepository) CreateUser(ctx context.Context, u *User) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING `+userCols+`
	`, u.Name, u.Email, u.Role, u.PasswordHash)

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, from time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE NOT booked AND NOT cancelled AND start_time > $1
		ORDER BY start_time
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByStudent(ctx context.Context, studentID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE student_id = $1
		ORDER BY appointment_time
	`, studentID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByCounsellor(ctx context.Context, counsellorID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE counsellor_id = $1
		ORDER BY appointment_time
	`, counsellorID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindStalePendingPayment(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = $1
		  AND created_at < $2
	`, StatusPendingPayment, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Tx methods

type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (t *pgTx) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (t *pgTx) ListCounsellorSlotsFrom(ctx context.Context, counsellorID int64, from time.Time) ([]Slot, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE counsellor_id = $1
		  AND end_time > $2
		  AND NOT cancelled
	`, counsellorID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (t *pgTx) InsertSlot(ctx context.Context, s *Slot) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO slots (counsellor_id, student_id, start_time, end_time, price, booked, cancelled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+slotCols+`
	`, s.CounsellorID, s.StudentID, s.StartTime, s.EndTime, s.Price, s.Booked, s.Cancelled)

	created, err := scanSlot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotExists
		}
		return nil, err
	}
	return created, nil
}

func (t *pgTx) UpdateSlot(ctx context.Context, s *Slot) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE slots
		SET student_id = $2,
		    booked = $3,
		    cancelled = $4
		WHERE id = $1
	`, s.ID, s.StudentID, s.Booked, s.Cancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) GetAppointmentBySlotForUpdate(ctx context.Context, slotID int64) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE slot_id = $1
		  AND status NOT IN ($2, $3, $4)
		FOR UPDATE
	`, slotID, StatusCancelledStudent, StatusCancelledCounsellor, StatusCancelledExternal)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (student_id, counsellor_id, slot_id, appointment_time, status, created_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, now(), $6, 1)
		RETURNING `+appointmentCols+`
	`, a.StudentID, a.CounsellorID, a.SlotID, a.AppointmentTime, a.Status, a.ExpiresAt)
	return scanAppointment(row)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    status = $3,
		    version = version + 1
		WHERE id = $1
		  AND version = $4
	`, a.ID, a.SlotID, a.Status, a.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	a.Version++
	return nil
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, id int64) (*Payment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+paymentCols+`
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPayment(row)
}

func (t *pgTx) GetPaymentByAppointmentForUpdate(ctx context.Context, appointmentID int64) (*Payment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+paymentCols+`
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, appointmentID)
	return scanPayment(row)
}

func (t *pgTx) GetPaymentByOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+paymentCols+`
		FROM payments
		WHERE gateway_order_id = $1
		FOR UPDATE
	`, gatewayOrderID)
	return scanPayment(row)
}

func (t *pgTx) GetPendingPaymentByAppointment(ctx context.Context, appointmentID int64) (*Payment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+paymentCols+`
		FROM payments
		WHERE appointment_id = $1
		  AND status = $2
	`, appointmentID, PaymentPending)
	return scanPayment(row)
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) (*Payment, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO payments (appointment_id, amount, status, gateway_order_id, gateway_payment_id, gateway_name, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, now())
		RETURNING `+paymentCols+`
	`, p.AppointmentID, p.Amount, p.Status, p.GatewayOrderID, p.GatewayPaymentID, p.GatewayName)
	return scanPayment(row)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *Payment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_payment_id = NULLIF($3, '')
		WHERE id = $1
	`, p.ID, p.Status, p.GatewayPaymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *pgTx) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return getUserByID(ctx, t.q, id)
}

func getUserByID(ctx context.Context, q queryer, id int64) (*User, error) {
	row := q.QueryRow(ctx, `
		SELECT `+userCols+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}
