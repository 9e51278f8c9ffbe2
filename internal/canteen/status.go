package canteen

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusInKitchen Status = "IN_KITCHEN"
	StatusReady     Status = "READY"
	StatusPickedUp  Status = "PICKED_UP"
	StatusExpired   Status = "EXPIRED"
)

// PAID and IN_KITCHEN are interchangeable "in progress" states; everything
// downstream of payment treats them identically.
var validNext = map[Status]map[Status]bool{
	StatusCreated:   {StatusPaid: true},
	StatusPaid:      {StatusInKitchen: true, StatusReady: true},
	StatusInKitchen: {StatusPaid: true, StatusReady: true},
	StatusReady:     {StatusPickedUp: true, StatusExpired: true},
	StatusPickedUp:  {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// InProgress reports whether an order is past payment but not yet in a locker.
func InProgress(s Status) bool {
	return s == StatusPaid || s == StatusInKitchen
}
