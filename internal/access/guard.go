package access

import (
	"slices"

	"calbot/internal/models"
)

// Guard admits invokers that carry the configured authorization marker.
// The marker is a role id or a user id; it is fixed at construction.
type Guard struct {
	marker string
}

// NewGuard returns a guard for marker. An empty marker admits nobody.
func NewGuard(marker string) *Guard {
	return &Guard{marker: marker}
}

// IsAuthorized reports whether the marker is the invoker's user id or one of its role ids.
func (g *Guard) IsAuthorized(inv models.Invoker) bool {
	if g.marker == "" {
		return false
	}
	return inv.UserID == g.marker || slices.Contains(inv.RoleIDs, g.marker)
}
