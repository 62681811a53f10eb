package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/domain/referral"
	"github.com/labbook/labbook/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

// where renders the scope as conditions on the bookings alias b, appending
// any extra conditions given.
func (s Scope) where(args []interface{}, extra ...string) (string, []interface{}) {
	var conds []string
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if s.LabID != nil {
		add("b.lab_id = $%d", *s.LabID)
	}
	if s.PatientID != nil {
		add("b.patient_id = $%d", *s.PatientID)
	}
	if s.SalesExecID != nil {
		add("b.referral_code_id IN (SELECT id FROM referral_codes WHERE sales_exec_id = $%d)", *s.SalesExecID)
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) counts(ctx context.Context, query string, args ...interface{}) (Counts, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := Counts{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *repoPG) UsersByRole(ctx context.Context) (Counts, error) {
	return r.counts(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
}

func (r *repoPG) LabsByStatus(ctx context.Context) (Counts, error) {
	return r.counts(ctx, `SELECT status, COUNT(*) FROM labs GROUP BY status`)
}

func (r *repoPG) BookingsByStatus(ctx context.Context, s Scope) (Counts, error) {
	where, args := s.where(nil)
	return r.counts(ctx, `SELECT b.status, COUNT(*) FROM bookings b`+where+` GROUP BY b.status`, args...)
}

func (r *repoPG) Revenue(ctx context.Context, s Scope) (decimal.Decimal, error) {
	where, args := s.where(nil, "b.payment_status = 'paid'")
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(b.total_amount), 0) FROM bookings b`+where, args...).Scan(&total)
	return total, err
}

func (r *repoPG) ScheduledBetween(ctx context.Context, s Scope, from, to time.Time) (int, error) {
	args := []interface{}{from, to}
	where, args := s.where(args, "b.scheduled_at >= $1", "b.scheduled_at < $2", "b.status <> 'cancelled'")
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings b`+where, args...).Scan(&n)
	return n, err
}

func (r *repoPG) ReportsReady(ctx context.Context, s Scope) (int, error) {
	where, args := s.where(nil, "b.report_key IS NOT NULL")
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings b`+where, args...).Scan(&n)
	return n, err
}

func (r *repoPG) TopServices(ctx context.Context, labID uuid.UUID, limit int) ([]ServiceCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.service_id, MAX(i.name), COUNT(*), COALESCE(SUM(i.price), 0)
		FROM booking_items i
		JOIN bookings b ON b.id = i.booking_id
		WHERE b.lab_id = $1 AND b.status <> 'cancelled'
		GROUP BY i.service_id
		ORDER BY COUNT(*) DESC, MAX(i.name)
		LIMIT $2`, labID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ServiceCount{}
	for rows.Next() {
		var sc ServiceCount
		if err := rows.Scan(&sc.ServiceID, &sc.Name, &sc.Bookings, &sc.Revenue); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *repoPG) CommissionSummary(ctx context.Context, salesExecID *uuid.UUID) (*referral.CommissionSummary, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM commissions`
	var args []interface{}
	if salesExecID != nil {
		query += ` WHERE sales_exec_id = $1`
		args = append(args, *salesExecID)
	}
	rows, err := r.conn(ctx).Query(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := &referral.CommissionSummary{SalesExecID: salesExecID}
	for rows.Next() {
		var (
			status string
			count  int
			amount decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, err
		}
		sum.Add(status, count, amount)
	}
	return sum, rows.Err()
}

func (r *repoPG) ActiveCodes(ctx context.Context, salesExecID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM referral_codes
		WHERE sales_exec_id = $1 AND active
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (max_uses IS NULL OR uses_count < max_uses)`,
		salesExecID, now).Scan(&n)
	return n, err
}
