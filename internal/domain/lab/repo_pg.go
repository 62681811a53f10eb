package lab

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbook/labbook/internal/platform/db"
)

// -- Lab Repository --

type labRepoPG struct {
	pool *pgxpool.Pool
}

func NewLabRepo(pool *pgxpool.Pool) LabRepository {
	return &labRepoPG{pool: pool}
}

func (r *labRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const labCols = `id, name, slug, description, address, city, phone, email, license_number, status, logo_key, created_at, updated_at`

func scanLab(row pgx.Row) (*Lab, error) {
	var l Lab
	err := row.Scan(&l.ID, &l.Name, &l.Slug, &l.Description, &l.Address, &l.City, &l.Phone, &l.Email,
		&l.LicenseNumber, &l.Status, &l.LogoKey, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *labRepoPG) Create(ctx context.Context, l *Lab) error {
	l.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO labs (id, name, slug, description, address, city, phone, email, license_number, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		l.ID, l.Name, l.Slug, l.Description, l.Address, l.City, l.Phone, l.Email, l.LicenseNumber, l.Status,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrSlugTaken
	}
	return err
}

func (r *labRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return scanLab(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM labs WHERE id = $1`, id))
}

func (r *labRepoPG) Update(ctx context.Context, l *Lab) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE labs SET name=$2, description=$3, address=$4, city=$5, phone=$6, email=$7,
			license_number=$8, updated_at=NOW()
		WHERE id = $1`,
		l.ID, l.Name, l.Description, l.Address, l.City, l.Phone, l.Email, l.LicenseNumber,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE labs SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labRepoPG) SetLogo(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE labs SET logo_key=$2, updated_at=NOW() WHERE id = $1`, id, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labRepoPG) List(ctx context.Context, f LabFilter, limit, offset int) ([]*Lab, int, error) {
	var conds []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.City != "" {
		args = append(args, f.City)
		conds = append(conds, fmt.Sprintf("LOWER(city) = LOWER($%d)", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM labs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM labs%s ORDER BY name LIMIT $%d OFFSET $%d`, labCols, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var labs []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		labs = append(labs, l)
	}
	return labs, total, rows.Err()
}

// -- Service Repository --

type serviceRepoPG struct {
	pool *pgxpool.Pool
}

func NewServiceRepo(pool *pgxpool.Pool) ServiceRepository {
	return &serviceRepoPG{pool: pool}
}

func (r *serviceRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const serviceCols = `id, lab_id, name, code, category, description, price, discount_price,
	turnaround_hours, home_collection, active, created_at, updated_at`

func scanService(row pgx.Row) (*LabService, error) {
	var s LabService
	err := row.Scan(&s.ID, &s.LabID, &s.Name, &s.Code, &s.Category, &s.Description, &s.Price, &s.DiscountPrice,
		&s.TurnaroundHours, &s.HomeCollection, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *serviceRepoPG) Create(ctx context.Context, s *LabService) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_services (id, lab_id, name, code, category, description, price, discount_price,
			turnaround_hours, home_collection, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		s.ID, s.LabID, s.Name, s.Code, s.Category, s.Description, s.Price, s.DiscountPrice,
		s.TurnaroundHours, s.HomeCollection, s.Active,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrCodeTaken
	}
	return err
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabService, error) {
	return scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceCols+` FROM lab_services WHERE id = $1`, id))
}

func (r *serviceRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabService, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+serviceCols+` FROM lab_services WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LabService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *serviceRepoPG) Update(ctx context.Context, s *LabService) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_services SET name=$2, category=$3, description=$4, price=$5, discount_price=$6,
			turnaround_hours=$7, home_collection=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Category, s.Description, s.Price, s.DiscountPrice,
		s.TurnaroundHours, s.HomeCollection, s.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *serviceRepoPG) List(ctx context.Context, f ServiceFilter, limit, offset int) ([]*LabService, int, error) {
	var conds []string
	var args []interface{}
	if f.LabID != nil {
		args = append(args, *f.LabID)
		conds = append(conds, fmt.Sprintf("lab_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%[1]d OR code ILIKE $%[1]d)", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "active = TRUE")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_services`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM lab_services%s ORDER BY category, name LIMIT $%d OFFSET $%d`, serviceCols, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*LabService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
