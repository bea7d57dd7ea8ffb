package domain

import "fmt"

// IdentityKind tells a guest session apart from an authenticated user.
type IdentityKind string

const (
	IdentityGuest IdentityKind = "guest"
	IdentityUser  IdentityKind = "user"
)

// Identity is the key a cart is stored under. A cart belongs to exactly one
// identity at a time; on login the guest cart is merged into the user cart
// and the guest record deleted.
type Identity struct {
	Kind      IdentityKind
	SessionID string // set for guests
	UserID    string // set for users
}

func GuestIdentity(sessionID string) Identity {
	return Identity{Kind: IdentityGuest, SessionID: sessionID}
}

func UserIdentity(userID string) Identity {
	return Identity{Kind: IdentityUser, UserID: userID}
}

// Key returns a stable cache/storage key for the identity.
func (id Identity) Key() string {
	if id.Kind == IdentityUser {
		return fmt.Sprintf("user:%s", id.UserID)
	}
	return fmt.Sprintf("guest:%s", id.SessionID)
}

func (id Identity) IsGuest() bool {
	return id.Kind == IdentityGuest
}
