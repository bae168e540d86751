package entities

// User is the authenticated principal a rule is evaluated for.
// Authentication happens elsewhere; this is only the identity it produced.
type User struct {
	ID         string   `rule:"id"`
	Email      string   `rule:"email"`
	Role       string   `rule:"role"`
	RoleID     string   `rule:"role_id"`
	Groups     []string `rule:"groups"`
	Verified   bool     `rule:"verified"`
	Superadmin bool     `rule:"superadmin"`
}

// IsAnonymous reports whether the request carries no identity
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == ""
}
