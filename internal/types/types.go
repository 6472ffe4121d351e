// README: Shared identifiers, coordinates and caller identity.
package types

type ID string

type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Location is a point with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
	Address string  `json:"address"`
}

func (l Location) Point() Point {
	return Point{Lat: l.Lat, Lng: l.Lng}
}

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePassenger, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller of a core operation.
type Identity struct {
	ID   ID
	Role Role
}

func (i Identity) Is(role Role) bool {
	return i.ID != "" && i.Role == role
}
