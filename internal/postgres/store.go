package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

// Store is the Postgres-backed canteen.Store. Per-order serialization comes
// from `SELECT ... FOR UPDATE` on the order row; the free-cell pick locks the
// cell row the same way, and ClaimCell is a guarded FREE->OCCUPIED update so
// concurrent assignments cannot double-book a cell.
type Store struct{ DB *pgxpool.Pool }

var _ canteen.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(tx canteen.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

var _ canteen.Tx = (*pgTx)(nil)

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// ---- orders ----

const orderCols = `id, user_id, location_id, status, scheduled_for, total,
	pickup_deadline_at, ready_at, picked_up_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*canteen.Order, error) {
	var o canteen.Order
	err := row.Scan(&o.ID, &o.UserID, &o.LocationID, &o.Status, &o.ScheduledFor, &o.Total,
		&o.PickupDeadlineAt, &o.ReadyAt, &o.PickedUpAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *canteen.Order, lines []canteen.OrderLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (`+orderCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.UserID, o.LocationID, o.Status, o.ScheduledFor, o.Total,
		o.PickupDeadlineAt, o.ReadyAt, o.PickedUpAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO order_lines (id, order_id, menu_item_id, qty, unit_price, comment)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			l.ID, l.OrderID, l.MenuItemID, l.Qty, l.UnitPrice, l.Comment)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) Order(ctx context.Context, id string) (*canteen.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, canteen.ErrOrderNotFound)
	}
	return o, nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (*canteen.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, canteen.ErrOrderNotFound)
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *canteen.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, scheduled_for=$3, total=$4, pickup_deadline_at=$5,
			ready_at=$6, picked_up_at=$7, updated_at=$8
		WHERE id=$1`,
		o.ID, o.Status, o.ScheduledFor, o.Total, o.PickupDeadlineAt,
		o.ReadyAt, o.PickedUpAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return canteen.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) OrderLines(ctx context.Context, orderID string) ([]canteen.OrderLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, menu_item_id, qty, unit_price, comment
		FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []canteen.OrderLine
	for rows.Next() {
		var l canteen.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.MenuItemID, &l.Qty, &l.UnitPrice, &l.Comment); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ordersQuery(ctx context.Context, q string, args ...any) ([]canteen.Order, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []canteen.Order
	for rows.Next() {
		var o canteen.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.LocationID, &o.Status, &o.ScheduledFor, &o.Total,
			&o.PickupDeadlineAt, &o.ReadyAt, &o.PickedUpAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) OrdersByStatus(ctx context.Context, statuses []canteen.Status) ([]canteen.Order, error) {
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	return t.ordersQuery(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status = ANY($1) ORDER BY scheduled_for ASC`, ss)
}

func (t *pgTx) OrdersByUser(ctx context.Context, userID string) ([]canteen.Order, error) {
	return t.ordersQuery(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// ---- receipts ----

func (t *pgTx) CreateReceipt(ctx context.Context, r *canteen.Receipt) error {
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO receipts (id, order_id, lines, total, paid_at)
		VALUES ($1,$2,$3,$4,$5)`,
		r.ID, r.OrderID, lines, r.Total, r.PaidAt)
	return err
}

func (t *pgTx) ReceiptByOrder(ctx context.Context, orderID string) (*canteen.Receipt, error) {
	var (
		r     canteen.Receipt
		lines []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, order_id, lines, total, paid_at FROM receipts WHERE order_id=$1`, orderID).
		Scan(&r.ID, &r.OrderID, &lines, &r.Total, &r.PaidAt)
	if err != nil {
		return nil, notFound(err, canteen.ErrReceiptNotFound)
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---- locker cells ----

func (t *pgTx) CreateCell(ctx context.Context, c *canteen.LockerCell) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO locker_cells (id, location_id, code, status)
		VALUES ($1,$2,$3,$4)`,
		c.ID, c.LocationID, c.Code, c.Status)
	return err
}

func (t *pgTx) Cell(ctx context.Context, id string) (*canteen.LockerCell, error) {
	var c canteen.LockerCell
	err := t.tx.QueryRow(ctx, `
		SELECT id, location_id, code, status FROM locker_cells WHERE id=$1`, id).
		Scan(&c.ID, &c.LocationID, &c.Code, &c.Status)
	if err != nil {
		return nil, notFound(err, canteen.ErrCellNotFound)
	}
	return &c, nil
}

func (t *pgTx) CellByCodeForUpdate(ctx context.Context, locationID, code string) (*canteen.LockerCell, error) {
	var c canteen.LockerCell
	err := t.tx.QueryRow(ctx, `
		SELECT id, location_id, code, status FROM locker_cells
		WHERE location_id=$1 AND code=$2 FOR UPDATE`, locationID, code).
		Scan(&c.ID, &c.LocationID, &c.Code, &c.Status)
	if err != nil {
		return nil, notFound(err, canteen.ErrNoFreeCells)
	}
	return &c, nil
}

func (t *pgTx) FreeCellForUpdate(ctx context.Context, locationID string) (*canteen.LockerCell, error) {
	// SKIP LOCKED lets two concurrent assignments pick different cells
	// instead of queueing on the same row.
	var c canteen.LockerCell
	err := t.tx.QueryRow(ctx, `
		SELECT id, location_id, code, status FROM locker_cells
		WHERE location_id=$1 AND status='FREE'
		ORDER BY code ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, locationID).
		Scan(&c.ID, &c.LocationID, &c.Code, &c.Status)
	if err != nil {
		return nil, notFound(err, canteen.ErrNoFreeCells)
	}
	return &c, nil
}

func (t *pgTx) ClaimCell(ctx context.Context, cellID string) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE locker_cells SET status='OCCUPIED' WHERE id=$1 AND status='FREE'`, cellID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return canteen.ErrCellOccupied
	}
	return nil
}

func (t *pgTx) ReleaseCell(ctx context.Context, cellID string) error {
	ct, err := t.tx.Exec(ctx, `UPDATE locker_cells SET status='FREE' WHERE id=$1`, cellID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return canteen.ErrCellNotFound
	}
	return nil
}

// ---- reservations ----

func (t *pgTx) CreateReservation(ctx context.Context, r *canteen.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO locker_reservations (id, order_id, cell_id, hold_until, created_at, released_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.OrderID, r.CellID, r.HoldUntil, r.CreatedAt, r.ReleasedAt)
	return err
}

func scanReservation(row pgx.Row) (*canteen.Reservation, error) {
	var r canteen.Reservation
	err := row.Scan(&r.ID, &r.OrderID, &r.CellID, &r.HoldUntil, &r.CreatedAt, &r.ReleasedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) Reservation(ctx context.Context, id string) (*canteen.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `
		SELECT id, order_id, cell_id, hold_until, created_at, released_at
		FROM locker_reservations WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, canteen.ErrReservationNotFound)
	}
	return r, nil
}

func (t *pgTx) ReservationByOrder(ctx context.Context, orderID string) (*canteen.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `
		SELECT id, order_id, cell_id, hold_until, created_at, released_at
		FROM locker_reservations WHERE order_id=$1`, orderID))
	if err != nil {
		return nil, notFound(err, canteen.ErrReservationNotFound)
	}
	return r, nil
}

func (t *pgTx) ReleaseReservation(ctx context.Context, id string, at time.Time) error {
	// second release is a no-op
	_, err := t.tx.Exec(ctx, `
		UPDATE locker_reservations SET released_at=$2
		WHERE id=$1 AND released_at IS NULL`, id, at)
	return err
}

// ---- pickup credentials ----

const credCols = `id, order_id, token, pin, expires_at, used_at, created_at`

func scanCredential(row pgx.Row) (*canteen.PickupCredential, error) {
	var c canteen.PickupCredential
	err := row.Scan(&c.ID, &c.OrderID, &c.Token, &c.PIN, &c.ExpiresAt, &c.UsedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) CreateCredential(ctx context.Context, c *canteen.PickupCredential) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pickup_credentials (`+credCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.OrderID, c.Token, c.PIN, c.ExpiresAt, c.UsedAt, c.CreatedAt)
	return err
}

func (t *pgTx) CredentialByToken(ctx context.Context, token string) (*canteen.PickupCredential, error) {
	c, err := scanCredential(t.tx.QueryRow(ctx, `
		SELECT `+credCols+` FROM pickup_credentials WHERE token=$1`, token))
	if err != nil {
		return nil, notFound(err, canteen.ErrCredentialNotFound)
	}
	return c, nil
}

func (t *pgTx) CredentialByOrderPIN(ctx context.Context, orderID, pin string) (*canteen.PickupCredential, error) {
	c, err := scanCredential(t.tx.QueryRow(ctx, `
		SELECT `+credCols+` FROM pickup_credentials
		WHERE order_id=$1 AND pin=$2
		ORDER BY created_at DESC LIMIT 1`, orderID, pin))
	if err != nil {
		return nil, notFound(err, canteen.ErrCredentialNotFound)
	}
	return c, nil
}

func (t *pgTx) ActiveCredential(ctx context.Context, orderID string) (*canteen.PickupCredential, error) {
	c, err := scanCredential(t.tx.QueryRow(ctx, `
		SELECT `+credCols+` FROM pickup_credentials
		WHERE order_id=$1 AND used_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, orderID))
	if err != nil {
		return nil, notFound(err, canteen.ErrCredentialNotFound)
	}
	return c, nil
}

func (t *pgTx) InvalidateCredentials(ctx context.Context, orderID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE pickup_credentials SET used_at=$2
		WHERE order_id=$1 AND used_at IS NULL`, orderID, at)
	return err
}

func (t *pgTx) MarkCredentialUsed(ctx context.Context, id string, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE pickup_credentials SET used_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return canteen.ErrCredentialNotFound
	}
	return nil
}

// ---- menu and availability ----

func (t *pgTx) UpsertMenuItem(ctx context.Context, m *canteen.MenuItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO menu_items (id, name, category, price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,
			category=EXCLUDED.category, price=EXCLUDED.price`,
		m.ID, m.Name, m.Category, m.Price)
	return err
}

func (t *pgTx) MenuItem(ctx context.Context, id string) (*canteen.MenuItem, error) {
	var m canteen.MenuItem
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, category, price FROM menu_items WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &m.Category, &m.Price)
	if err != nil {
		return nil, notFound(err, canteen.ErrItemNotFound)
	}
	return &m, nil
}

func (t *pgTx) Availability(ctx context.Context, locationID, menuItemID string) (*canteen.Availability, error) {
	var a canteen.Availability
	err := t.tx.QueryRow(ctx, `
		SELECT location_id, menu_item_id, is_available, stock_qty
		FROM availability WHERE location_id=$1 AND menu_item_id=$2`, locationID, menuItemID).
		Scan(&a.LocationID, &a.MenuItemID, &a.Available, &a.StockQty)
	if err != nil {
		return nil, notFound(err, canteen.ErrItemNotFound)
	}
	return &a, nil
}

func (t *pgTx) SetAvailability(ctx context.Context, a *canteen.Availability) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO availability (location_id, menu_item_id, is_available, stock_qty)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (location_id, menu_item_id) DO UPDATE SET
			is_available=EXCLUDED.is_available, stock_qty=EXCLUDED.stock_qty`,
		a.LocationID, a.MenuItemID, a.Available, a.StockQty)
	return err
}

func (t *pgTx) DecrementStock(ctx context.Context, locationID, menuItemID string, qty int) error {
	// row lock first, so concurrent creations cannot oversell
	var stock *int
	err := t.tx.QueryRow(ctx, `
		SELECT stock_qty FROM availability
		WHERE location_id=$1 AND menu_item_id=$2 FOR UPDATE`, locationID, menuItemID).
		Scan(&stock)
	if err != nil {
		return notFound(err, canteen.ErrItemUnavailable)
	}
	if stock == nil {
		return nil // unlimited
	}
	if *stock < qty {
		return canteen.ErrItemUnavailable
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE availability SET stock_qty = stock_qty - $3
		WHERE location_id=$1 AND menu_item_id=$2`, locationID, menuItemID, qty)
	return err
}

func (t *pgTx) ListMenu(ctx context.Context, locationID string) ([]canteen.MenuListing, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT m.id, m.name, m.category, m.price, a.is_available, a.stock_qty
		FROM availability a JOIN menu_items m ON m.id = a.menu_item_id
		WHERE a.location_id=$1 ORDER BY m.name`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []canteen.MenuListing
	for rows.Next() {
		var l canteen.MenuListing
		if err := rows.Scan(&l.Item.ID, &l.Item.Name, &l.Item.Category, &l.Item.Price,
			&l.Available, &l.StockQty); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---- locations and users ----

func (t *pgTx) CreateLocation(ctx context.Context, l *canteen.Location) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO locations (id, name, closing_minutes, is_closed)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,
			closing_minutes=EXCLUDED.closing_minutes, is_closed=EXCLUDED.is_closed`,
		l.ID, l.Name, int(l.Closing/time.Minute), l.IsClosed)
	return err
}

func (t *pgTx) Location(ctx context.Context, id string) (*canteen.Location, error) {
	var (
		l       canteen.Location
		minutes int
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, closing_minutes, is_closed FROM locations WHERE id=$1`, id).
		Scan(&l.ID, &l.Name, &minutes, &l.IsClosed)
	if err != nil {
		return nil, notFound(err, canteen.ErrLocationNotFound)
	}
	l.Closing = time.Duration(minutes) * time.Minute
	return &l, nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *canteen.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, login, pin_hash, display_name, role)
		VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.Login, u.PINHash, u.DisplayName, u.Role)
	return err
}

func (t *pgTx) UserByLogin(ctx context.Context, login string) (*canteen.User, error) {
	var u canteen.User
	err := t.tx.QueryRow(ctx, `
		SELECT id, login, pin_hash, display_name, role FROM users WHERE login=$1`, login).
		Scan(&u.ID, &u.Login, &u.PINHash, &u.DisplayName, &u.Role)
	if err != nil {
		return nil, notFound(err, canteen.ErrUserNotFound)
	}
	return &u, nil
}
