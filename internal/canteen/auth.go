package canteen

type Role string

const (
	RoleUser  Role = "user"
	RoleCook  Role = "cook"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller, passed explicitly into entry points
// rather than read from ambient context.
type Principal struct {
	UserID string
	Role   Role
}

type Capability int

const (
	// CapKitchen covers the cook surface: queue, in-kitchen, ready, reissue,
	// out-of-band cell release.
	CapKitchen Capability = iota
	// CapAdmin covers catalog and availability edits.
	CapAdmin
)

var grants = map[Role]map[Capability]bool{
	RoleUser:  {},
	RoleCook:  {CapKitchen: true},
	RoleAdmin: {CapKitchen: true, CapAdmin: true},
}

func (p Principal) Can(c Capability) bool {
	return grants[p.Role][c]
}
