package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbook/labbook/internal/platform/db"
)

// -- Booking Repository --

type bookingRepoPG struct {
	pool *pgxpool.Pool
}

func NewBookingRepo(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

func (r *bookingRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const bookingCols = `id, booking_number, patient_id, lab_id, subtotal, discount, total_amount,
	referral_code_id, status, payment_status, payment_method, collection_type, collection_address,
	scheduled_at, report_key, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.BookingNumber, &b.PatientID, &b.LabID, &b.Subtotal, &b.Discount, &b.TotalAmount,
		&b.ReferralCodeID, &b.Status, &b.PaymentStatus, &b.PaymentMethod, &b.CollectionType, &b.CollectionAddress,
		&b.ScheduledAt, &b.ReportKey, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.HasReport = b.ReportKey != nil
	return &b, nil
}

func (r *bookingRepoPG) NextNumber(ctx context.Context, day time.Time) (string, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('booking_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next booking number: %w", err)
	}
	return FormatBookingNumber(day, seq), nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO bookings (id, booking_number, patient_id, lab_id, subtotal, discount, total_amount,
			referral_code_id, status, payment_status, payment_method, collection_type, collection_address,
			scheduled_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		b.ID, b.BookingNumber, b.PatientID, b.LabID, b.Subtotal, b.Discount, b.TotalAmount,
		b.ReferralCodeID, b.Status, b.PaymentStatus, b.PaymentMethod, b.CollectionType, b.CollectionAddress,
		b.ScheduledAt, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range b.Items {
		it.ID = uuid.New()
		it.BookingID = b.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO booking_items (id, booking_id, service_id, name, price)
			VALUES ($1,$2,$3,$4,$5)`,
			it.ID, it.BookingID, it.ServiceID, it.Name, it.Price,
		); err != nil {
			return fmt.Errorf("insert booking item: %w", err)
		}
	}
	return nil
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *bookingRepoPG) attachItems(ctx context.Context, bookings []*Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Booking, len(bookings))
	ids := make([]uuid.UUID, 0, len(bookings))
	for _, b := range bookings {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, service_id, name, price
		FROM booking_items WHERE booking_id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it BookingItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.ServiceID, &it.Name, &it.Price); err != nil {
			return err
		}
		if b := byID[it.BookingID]; b != nil {
			b.Items = append(b.Items, &it)
		}
	}
	return rows.Err()
}

func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.LabID != nil {
		add("lab_id = $%d", *f.LabID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.From != nil {
		add("scheduled_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_at < $%d", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM bookings%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		bookingCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attachItems(ctx, bookings); err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.exec(ctx, `UPDATE bookings SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *bookingRepoPG) SwapPaymentStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET payment_status = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) SetReport(ctx context.Context, id uuid.UUID, key string) error {
	return r.exec(ctx, `UPDATE bookings SET report_key = $2, updated_at = NOW() WHERE id = $1`, id, key)
}

func (r *bookingRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bookingRepoPG) AddHistory(ctx context.Context, h *StatusChange) error {
	h.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO booking_status_history (id, booking_id, from_status, to_status, changed_by, note)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING changed_at`,
		h.ID, h.BookingID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Note,
	).Scan(&h.ChangedAt)
}

func (r *bookingRepoPG) History(ctx context.Context, bookingID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, from_status, to_status, changed_by, note, changed_at
		FROM booking_status_history WHERE booking_id = $1 ORDER BY changed_at, id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.BookingID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Note, &h.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// -- Payment Repository --

type paymentRepoPG struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const paymentCols = `id, booking_id, order_id, gateway_payment_id, amount, currency, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.OrderID, &p.GatewayPaymentID, &p.Amount, &p.Currency,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, booking_id, order_id, amount, currency, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.BookingID, p.OrderID, p.Amount, p.Currency, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepoPG) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id = $1`, orderID))
}

func (r *paymentRepoPG) GetLatestForBooking(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`, bookingID))
}

func (r *paymentRepoPG) MarkCaptured(ctx context.Context, id uuid.UUID, gatewayPaymentID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = 'captured', gateway_payment_id = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('created', 'failed')`, id, gatewayPaymentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepoPG) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'created'`, id)
	return err
}

func (r *paymentRepoPG) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = 'refunding', updated_at = NOW()
		WHERE id = $1 AND status = 'captured'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepoPG) ReleaseRefund(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = 'captured', updated_at = NOW()
		WHERE id = $1 AND status = 'refunding'`, id)
	return err
}

func (r *paymentRepoPG) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = 'refunded', updated_at = NOW()
		WHERE id = $1 AND status = 'refunding'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRefundable
	}
	return nil
}
