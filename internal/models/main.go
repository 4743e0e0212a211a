// Package models defines the core data structures shared by the cockpit
// client and the development API.
package models

// Role identifies which half of the cockpit a pilot user sees.
type Role string

const (
	// RoleOperator is a pilot operator running the settlement side.
	RoleOperator Role = "operator"
	// RoleAnchor is an anchor site submitting meter readings.
	RoleAnchor Role = "anchor"
	// RoleUnset is used by email accounts until the server decides.
	RoleUnset Role = ""
)

// Valid reports whether r is one of the pilot roles.
func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleAnchor
}

// DefaultRegion is the region assumed when neither storage nor server provide one.
const DefaultRegion = "region-1"

// User represents an account as returned by the identity service.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// RegionID is the pilot region the user belongs to.
	RegionID string `json:"regionId,omitempty"`
	// Name is the display name, may be empty.
	Name string `json:"name,omitempty"`
	// Email is the sign-in address for email accounts.
	Email string `json:"email,omitempty"`
	// Role is set for pilot accounts only.
	Role Role `json:"role,omitempty"`
	// PasswordHash is never serialized.
	PasswordHash []byte `json:"-"`
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Wallet holds the balance of a user in minor currency units.
type Wallet struct {
	UserID       string `json:"userId,omitempty"`
	BalanceCents int64  `json:"balanceCents"`
}

// Me is the response of GET /me.
type Me struct {
	User   *User   `json:"user"`
	Wallet *Wallet `json:"wallet"`
}

// AuthResponse is returned by every login and register endpoint.
type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token,omitempty"`
}

// PilotLoginRequest is the body of POST /auth/pilot-login.
type PilotLoginRequest struct {
	Role     Role   `json:"role"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}
