package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/platform/db"
)

// -- Referral Code Repository --

type codeRepoPG struct {
	pool *pgxpool.Pool
}

func NewCodeRepo(pool *pgxpool.Pool) CodeRepository {
	return &codeRepoPG{pool: pool}
}

func (r *codeRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const codeCols = `id, code, sales_exec_id, discount_percent, max_uses, uses_count, total_earned,
	active, expires_at, created_at, updated_at`

func scanCode(row pgx.Row) (*ReferralCode, error) {
	var c ReferralCode
	err := row.Scan(&c.ID, &c.Code, &c.SalesExecID, &c.DiscountPercent, &c.MaxUses, &c.UsesCount,
		&c.TotalEarned, &c.Active, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *codeRepoPG) Create(ctx context.Context, c *ReferralCode) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referral_codes (id, code, sales_exec_id, discount_percent, max_uses, active, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING uses_count, total_earned, created_at, updated_at`,
		c.ID, c.Code, c.SalesExecID, c.DiscountPercent, c.MaxUses, c.Active, c.ExpiresAt,
	).Scan(&c.UsesCount, &c.TotalEarned, &c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrCodeTaken
	}
	return err
}

func (r *codeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error) {
	return scanCode(r.conn(ctx).QueryRow(ctx, `SELECT `+codeCols+` FROM referral_codes WHERE id = $1`, id))
}

func (r *codeRepoPG) GetByCode(ctx context.Context, code string) (*ReferralCode, error) {
	return scanCode(r.conn(ctx).QueryRow(ctx, `SELECT `+codeCols+` FROM referral_codes WHERE code = $1`, code))
}

func (r *codeRepoPG) List(ctx context.Context, f CodeFilter, limit, offset int) ([]*ReferralCode, int, error) {
	var conds []string
	var args []interface{}
	if f.SalesExecID != nil {
		args = append(args, *f.SalesExecID)
		conds = append(conds, fmt.Sprintf("sales_exec_id = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referral_codes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM referral_codes%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		codeCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var codes []*ReferralCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, 0, err
		}
		codes = append(codes, c)
	}
	return codes, total, rows.Err()
}

func (r *codeRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, `UPDATE referral_codes SET active=$2, updated_at=NOW() WHERE id = $1`, id, active)
}

func (r *codeRepoPG) IncrementUsage(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.exec(ctx, `
		UPDATE referral_codes
		SET uses_count = uses_count + 1, total_earned = total_earned + $2, updated_at = NOW()
		WHERE id = $1`, id, amount)
}

func (r *codeRepoPG) DecrementUsage(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.exec(ctx, `
		UPDATE referral_codes
		SET uses_count = GREATEST(uses_count - 1, 0),
		    total_earned = GREATEST(total_earned - $2, 0),
		    updated_at = NOW()
		WHERE id = $1`, id, amount)
}

func (r *codeRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Commission Repository --

type commissionRepoPG struct {
	pool *pgxpool.Pool
}

func NewCommissionRepo(pool *pgxpool.Pool) CommissionRepository {
	return &commissionRepoPG{pool: pool}
}

func (r *commissionRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const commissionCols = `id, booking_id, sales_exec_id, referral_code_id, base_amount, rate, amount,
	status, payout_ref, paid_at, created_at, updated_at`

func scanCommission(row pgx.Row) (*Commission, error) {
	var c Commission
	err := row.Scan(&c.ID, &c.BookingID, &c.SalesExecID, &c.ReferralCodeID, &c.BaseAmount, &c.Rate,
		&c.Amount, &c.Status, &c.PayoutRef, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *commissionRepoPG) InsertIfAbsent(ctx context.Context, c *Commission) (bool, error) {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO commissions (id, booking_id, sales_exec_id, referral_code_id, base_amount, rate, amount, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING created_at, updated_at`,
		c.ID, c.BookingID, c.SalesExecID, c.ReferralCodeID, c.BaseAmount, c.Rate, c.Amount, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *commissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Commission, error) {
	return scanCommission(r.conn(ctx).QueryRow(ctx, `SELECT `+commissionCols+` FROM commissions WHERE id = $1`, id))
}

func (r *commissionRepoPG) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Commission, error) {
	return scanCommission(r.conn(ctx).QueryRow(ctx, `SELECT `+commissionCols+` FROM commissions WHERE booking_id = $1`, bookingID))
}

func (r *commissionRepoPG) List(ctx context.Context, f CommissionFilter, limit, offset int) ([]*Commission, int, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SalesExecID != nil {
		add("sales_exec_id = $%d", *f.SalesExecID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM commissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM commissions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		commissionCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *commissionRepoPG) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE commissions SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'earned'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *commissionRepoPG) MarkPaid(ctx context.Context, ids []uuid.UUID, payoutRef string, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE commissions SET status = 'paid', payout_ref = $2, paid_at = $3, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'earned'`, ids, payoutRef, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *commissionRepoPG) Summary(ctx context.Context, salesExecID *uuid.UUID) (*CommissionSummary, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM commissions`
	var args []interface{}
	if salesExecID != nil {
		query += ` WHERE sales_exec_id = $1`
		args = append(args, *salesExecID)
	}
	query += ` GROUP BY status`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := &CommissionSummary{SalesExecID: salesExecID}
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
