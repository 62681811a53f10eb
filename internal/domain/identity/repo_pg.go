package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, name, email, phone, password_hash, role, status, lab_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Status, &u.LabID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash, role, status, lab_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.Status, u.LabID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET name=$2, phone=$3, lab_id=$4, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Phone, u.LabID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	where, args := userWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func userWhere(f UserFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Role != "" {
		add("role = $%d", f.Role)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.LabID != nil {
		add("lab_id = $%d", *f.LabID)
	}
	if f.Search != "" {
		add("(name ILIKE $%[1]d OR email ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// -- Sales Executive Repository --

type salesExecRepoPG struct {
	pool *pgxpool.Pool
}

func NewSalesExecutiveRepo(pool *pgxpool.Pool) SalesExecutiveRepository {
	return &salesExecRepoPG{pool: pool}
}

func (r *salesExecRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const salesExecSelect = `SELECT se.id, se.user_id, se.commission_rate, se.territory, se.active,
	u.name, u.email, se.created_at, se.updated_at
	FROM sales_executives se JOIN users u ON u.id = se.user_id`

func scanSalesExec(row pgx.Row) (*SalesExecutive, error) {
	var se SalesExecutive
	err := row.Scan(&se.ID, &se.UserID, &se.CommissionRate, &se.Territory, &se.Active,
		&se.Name, &se.Email, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &se, nil
}

func (r *salesExecRepoPG) Create(ctx context.Context, se *SalesExecutive) error {
	se.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sales_executives (id, user_id, commission_rate, territory, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		se.ID, se.UserID, se.CommissionRate, se.Territory, se.Active,
	).Scan(&se.CreatedAt, &se.UpdatedAt)
}

func (r *salesExecRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SalesExecutive, error) {
	return scanSalesExec(r.conn(ctx).QueryRow(ctx, salesExecSelect+` WHERE se.id = $1`, id))
}

func (r *salesExecRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*SalesExecutive, error) {
	return scanSalesExec(r.conn(ctx).QueryRow(ctx, salesExecSelect+` WHERE se.user_id = $1`, userID))
}

func (r *salesExecRepoPG) SetCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sales_executives SET commission_rate=$2, updated_at=NOW() WHERE id = $1`, id, rate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *salesExecRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sales_executives SET active=$2, updated_at=NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *salesExecRepoPG) List(ctx context.Context, limit, offset int) ([]*SalesExecutive, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sales_executives`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, salesExecSelect+` ORDER BY u.name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*SalesExecutive
	for rows.Next() {
		se, err := scanSalesExec(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, se)
	}
	return out, total, rows.Err()
}
