// Package memstore is an in-memory canteen.Store used by tests and
// single-node development runs. Transactions serialize under one lock; a
// failed transaction restores the pre-transaction snapshot, so the atomicity
// contract matches the SQL-backed store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

type Store struct {
	mu sync.Mutex

	orders       map[string]canteen.Order
	linesByOrder map[string][]canteen.OrderLine
	receipts     map[string]canteen.Receipt // by order id
	cells        map[string]canteen.LockerCell
	reservations map[string]canteen.Reservation
	resByOrder   map[string]string   // order id -> reservation id
	creds        map[string]canteen.PickupCredential
	credsByOrder map[string][]string // issue order, oldest first
	credByToken  map[string]string
	items        map[string]canteen.MenuItem
	avail        map[string]canteen.Availability // locationID+"/"+itemID
	locations    map[string]canteen.Location
	users        map[string]canteen.User
	userByLogin  map[string]string
}

func New() *Store {
	return &Store{
		orders:       map[string]canteen.Order{},
		linesByOrder: map[string][]canteen.OrderLine{},
		receipts:     map[string]canteen.Receipt{},
		cells:        map[string]canteen.LockerCell{},
		reservations: map[string]canteen.Reservation{},
		resByOrder:   map[string]string{},
		creds:        map[string]canteen.PickupCredential{},
		credsByOrder: map[string][]string{},
		credByToken:  map[string]string{},
		items:        map[string]canteen.MenuItem{},
		avail:        map[string]canteen.Availability{},
		locations:    map[string]canteen.Location{},
		users:        map[string]canteen.User{},
		userByLogin:  map[string]string{},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx canteen.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	orders       map[string]canteen.Order
	linesByOrder map[string][]canteen.OrderLine
	receipts     map[string]canteen.Receipt
	cells        map[string]canteen.LockerCell
	reservations map[string]canteen.Reservation
	resByOrder   map[string]string
	creds        map[string]canteen.PickupCredential
	credsByOrder map[string][]string
	credByToken  map[string]string
	items        map[string]canteen.MenuItem
	avail        map[string]canteen.Availability
	locations    map[string]canteen.Location
	users        map[string]canteen.User
	userByLogin  map[string]string
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySliceMap[K comparable, V any](m map[K][]V) map[K][]V {
	out := make(map[K][]V, len(m))
	for k, v := range m {
		cp := make([]V, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		orders:       copyMap(s.orders),
		linesByOrder: copySliceMap(s.linesByOrder),
		receipts:     copyMap(s.receipts),
		cells:        copyMap(s.cells),
		reservations: copyMap(s.reservations),
		resByOrder:   copyMap(s.resByOrder),
		creds:        copyMap(s.creds),
		credsByOrder: copySliceMap(s.credsByOrder),
		credByToken:  copyMap(s.credByToken),
		items:        copyMap(s.items),
		avail:        copyMap(s.avail),
		locations:    copyMap(s.locations),
		users:        copyMap(s.users),
		userByLogin:  copyMap(s.userByLogin),
	}
}

func (s *Store) restore(snap snapshot) {
	s.orders = snap.orders
	s.linesByOrder = snap.linesByOrder
	s.receipts = snap.receipts
	s.cells = snap.cells
	s.reservations = snap.reservations
	s.resByOrder = snap.resByOrder
	s.creds = snap.creds
	s.credsByOrder = snap.credsByOrder
	s.credByToken = snap.credByToken
	s.items = snap.items
	s.avail = snap.avail
	s.locations = snap.locations
	s.users = snap.users
	s.userByLogin = snap.userByLogin
}

func availKey(locationID, itemID string) string { return locationID + "/" + itemID }

// memTx operates directly on the store; the store lock is already held for
// the whole transaction, so reads and writes need no further locking.
type memTx struct{ s *Store }

var _ canteen.Tx = (*memTx)(nil)

// ---- orders ----

func (t *memTx) CreateOrder(ctx context.Context, o *canteen.Order, lines []canteen.OrderLine) error {
	t.s.orders[o.ID] = *o
	cp := make([]canteen.OrderLine, len(lines))
	copy(cp, lines)
	t.s.linesByOrder[o.ID] = cp
	return nil
}

func (t *memTx) Order(ctx context.Context, id string) (*canteen.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, canteen.ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id string) (*canteen.Order, error) {
	return t.Order(ctx, id)
}

func (t *memTx) UpdateOrder(ctx context.Context, o *canteen.Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return canteen.ErrOrderNotFound
	}
	t.s.orders[o.ID] = *o
	return nil
}

func (t *memTx) OrderLines(ctx context.Context, orderID string) ([]canteen.OrderLine, error) {
	src := t.s.linesByOrder[orderID]
	out := make([]canteen.OrderLine, len(src))
	copy(out, src)
	return out, nil
}

func (t *memTx) OrdersByStatus(ctx context.Context, statuses []canteen.Status) ([]canteen.Order, error) {
	want := map[canteen.Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []canteen.Order
	for _, o := range t.s.orders {
		if want[o.Status] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (t *memTx) OrdersByUser(ctx context.Context, userID string) ([]canteen.Order, error) {
	var out []canteen.Order
	for _, o := range t.s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- receipts ----

func (t *memTx) CreateReceipt(ctx context.Context, r *canteen.Receipt) error {
	cp := *r
	cp.Lines = make([]canteen.ReceiptLine, len(r.Lines))
	copy(cp.Lines, r.Lines)
	t.s.receipts[r.OrderID] = cp
	return nil
}

func (t *memTx) ReceiptByOrder(ctx context.Context, orderID string) (*canteen.Receipt, error) {
	r, ok := t.s.receipts[orderID]
	if !ok {
		return nil, canteen.ErrReceiptNotFound
	}
	return &r, nil
}

// ---- locker cells ----

func (t *memTx) CreateCell(ctx context.Context, c *canteen.LockerCell) error {
	t.s.cells[c.ID] = *c
	return nil
}

func (t *memTx) Cell(ctx context.Context, id string) (*canteen.LockerCell, error) {
	c, ok := t.s.cells[id]
	if !ok {
		return nil, canteen.ErrCellNotFound
	}
	return &c, nil
}

func (t *memTx) CellByCodeForUpdate(ctx context.Context, locationID, code string) (*canteen.LockerCell, error) {
	for _, c := range t.s.cells {
		if c.LocationID == locationID && c.Code == code {
			cp := c
			return &cp, nil
		}
	}
	return nil, canteen.ErrNoFreeCells
}

func (t *memTx) FreeCellForUpdate(ctx context.Context, locationID string) (*canteen.LockerCell, error) {
	var free []canteen.LockerCell
	for _, c := range t.s.cells {
		if c.LocationID == locationID && c.Status == canteen.CellFree {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return nil, canteen.ErrNoFreeCells
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Code < free[j].Code })
	out := free[0]
	return &out, nil
}

func (t *memTx) ClaimCell(ctx context.Context, cellID string) error {
	c, ok := t.s.cells[cellID]
	if !ok {
		return canteen.ErrCellNotFound
	}
	if c.Status != canteen.CellFree {
		return canteen.ErrCellOccupied
	}
	c.Status = canteen.CellOccupied
	t.s.cells[cellID] = c
	return nil
}

func (t *memTx) ReleaseCell(ctx context.Context, cellID string) error {
	c, ok := t.s.cells[cellID]
	if !ok {
		return canteen.ErrCellNotFound
	}
	c.Status = canteen.CellFree
	t.s.cells[cellID] = c
	return nil
}

// ---- reservations ----

func (t *memTx) CreateReservation(ctx context.Context, r *canteen.Reservation) error {
	t.s.reservations[r.ID] = *r
	t.s.resByOrder[r.OrderID] = r.ID
	return nil
}

func (t *memTx) Reservation(ctx context.Context, id string) (*canteen.Reservation, error) {
	r, ok := t.s.reservations[id]
	if !ok {
		return nil, canteen.ErrReservationNotFound
	}
	return &r, nil
}

func (t *memTx) ReservationByOrder(ctx context.Context, orderID string) (*canteen.Reservation, error) {
	id, ok := t.s.resByOrder[orderID]
	if !ok {
		return nil, canteen.ErrReservationNotFound
	}
	return t.Reservation(ctx, id)
}

func (t *memTx) ReleaseReservation(ctx context.Context, id string, at time.Time) error {
	r, ok := t.s.reservations[id]
	if !ok {
		return canteen.ErrReservationNotFound
	}
	if r.ReleasedAt == nil {
		ts := at
		r.ReleasedAt = &ts
		t.s.reservations[id] = r
	}
	return nil
}

// ---- pickup credentials ----

func (t *memTx) CreateCredential(ctx context.Context, c *canteen.PickupCredential) error {
	t.s.creds[c.ID] = *c
	t.s.credsByOrder[c.OrderID] = append(t.s.credsByOrder[c.OrderID], c.ID)
	t.s.credByToken[c.Token] = c.ID
	return nil
}

func (t *memTx) CredentialByToken(ctx context.Context, token string) (*canteen.PickupCredential, error) {
	id, ok := t.s.credByToken[token]
	if !ok {
		return nil, canteen.ErrCredentialNotFound
	}
	c := t.s.creds[id]
	return &c, nil
}

func (t *memTx) CredentialByOrderPIN(ctx context.Context, orderID, pin string) (*canteen.PickupCredential, error) {
	ids := t.s.credsByOrder[orderID]
	for i := len(ids) - 1; i >= 0; i-- {
		c := t.s.creds[ids[i]]
		if c.PIN == pin {
			return &c, nil
		}
	}
	return nil, canteen.ErrCredentialNotFound
}

func (t *memTx) ActiveCredential(ctx context.Context, orderID string) (*canteen.PickupCredential, error) {
	ids := t.s.credsByOrder[orderID]
	for i := len(ids) - 1; i >= 0; i-- {
		c := t.s.creds[ids[i]]
		if c.UsedAt == nil {
			return &c, nil
		}
	}
	return nil, canteen.ErrCredentialNotFound
}

func (t *memTx) InvalidateCredentials(ctx context.Context, orderID string, at time.Time) error {
	for _, id := range t.s.credsByOrder[orderID] {
		c := t.s.creds[id]
		if c.UsedAt == nil {
			ts := at
			c.UsedAt = &ts
			t.s.creds[id] = c
		}
	}
	return nil
}

func (t *memTx) MarkCredentialUsed(ctx context.Context, id string, at time.Time) error {
	c, ok := t.s.creds[id]
	if !ok {
		return canteen.ErrCredentialNotFound
	}
	ts := at
	c.UsedAt = &ts
	t.s.creds[id] = c
	return nil
}

// ---- menu and availability ----

func (t *memTx) UpsertMenuItem(ctx context.Context, m *canteen.MenuItem) error {
	t.s.items[m.ID] = *m
	return nil
}

func (t *memTx) MenuItem(ctx context.Context, id string) (*canteen.MenuItem, error) {
	m, ok := t.s.items[id]
	if !ok {
		return nil, canteen.ErrItemNotFound
	}
	return &m, nil
}

func (t *memTx) Availability(ctx context.Context, locationID, menuItemID string) (*canteen.Availability, error) {
	a, ok := t.s.avail[availKey(locationID, menuItemID)]
	if !ok {
		return nil, canteen.ErrItemNotFound
	}
	cp := a
	if a.StockQty != nil {
		v := *a.StockQty
		cp.StockQty = &v
	}
	return &cp, nil
}

func (t *memTx) SetAvailability(ctx context.Context, a *canteen.Availability) error {
	cp := *a
	if a.StockQty != nil {
		v := *a.StockQty
		cp.StockQty = &v
	}
	t.s.avail[availKey(a.LocationID, a.MenuItemID)] = cp
	return nil
}

func (t *memTx) DecrementStock(ctx context.Context, locationID, menuItemID string, qty int) error {
	key := availKey(locationID, menuItemID)
	a, ok := t.s.avail[key]
	if !ok {
		return canteen.ErrItemUnavailable
	}
	if a.StockQty == nil {
		return nil // unlimited
	}
	if *a.StockQty < qty {
		return canteen.ErrItemUnavailable
	}
	v := *a.StockQty - qty
	a.StockQty = &v
	t.s.avail[key] = a
	return nil
}

func (t *memTx) ListMenu(ctx context.Context, locationID string) ([]canteen.MenuListing, error) {
	var out []canteen.MenuListing
	for _, a := range t.s.avail {
		if a.LocationID != locationID {
			continue
		}
		item, ok := t.s.items[a.MenuItemID]
		if !ok {
			continue
		}
		l := canteen.MenuListing{Item: item, Available: a.Available}
		if a.StockQty != nil {
			v := *a.StockQty
			l.StockQty = &v
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Name < out[j].Item.Name })
	return out, nil
}

// ---- locations and users ----

func (t *memTx) CreateLocation(ctx context.Context, l *canteen.Location) error {
	t.s.locations[l.ID] = *l
	return nil
}

func (t *memTx) Location(ctx context.Context, id string) (*canteen.Location, error) {
	l, ok := t.s.locations[id]
	if !ok {
		return nil, canteen.ErrLocationNotFound
	}
	return &l, nil
}

func (t *memTx) CreateUser(ctx context.Context, u *canteen.User) error {
	t.s.users[u.ID] = *u
	t.s.userByLogin[u.Login] = u.ID
	return nil
}

func (t *memTx) UserByLogin(ctx context.Context, login string) (*canteen.User, error) {
	id, ok := t.s.userByLogin[login]
	if !ok {
		return nil, canteen.ErrUserNotFound
	}
	u := t.s.users[id]
	return &u, nil
}
