package entity

import (
	"fmt"
	"strings"
	"time"
)

// Field names used for validation, uniqueness and lookups.
const (
	FieldID        = "id"
	FieldEmail     = "email"
	FieldUsername  = "username"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldPassword  = "password"
)

// Length limits for identifying fields, counted in characters.
const (
	MaxEmailLength    = 60
	MaxUsernameLength = 30
	MaxNameLength     = 40
)

// Tier is the permission level of an account.
type Tier int

const (
	TierUser Tier = iota
	TierStaff
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierUser:
		return "user"
	case TierStaff:
		return "staff"
	case TierAdmin:
		return "admin"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier accepts the names produced by String; "superuser" is an alias for admin.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return TierUser, nil
	case "staff":
		return TierStaff, nil
	case "admin", "superuser":
		return TierAdmin, nil
	}
	return TierUser, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if t < TierUser || t > TierAdmin {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TierFromFlags maps the legacy boolean columns onto a tier.
// is_admin and is_superuser both grant the full tier.
func TierFromFlags(isStaff, isAdmin, isSuperuser bool) Tier {
	switch {
	case isAdmin || isSuperuser:
		return TierAdmin
	case isStaff:
		return TierStaff
	default:
		return TierUser
	}
}

// Account is a single identity. Instances with a credential are only produced
// by the account service; the store assigns ID.
type Account struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	PasswordAlgo string     `json:"-"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	DateJoined   time.Time  `json:"date_joined"`
	IsActive     bool       `json:"is_active"`
	Tier         Tier       `json:"tier"`

	// Policy answers HasPermission. Nil means AllowAllPolicy.
	Policy PermissionPolicy `json:"-"`
}

// FullName returns first and last name separated by a space.
func (a *Account) FullName() string {
	return a.FirstName + " " + a.LastName
}

// ShortName returns the username.
func (a *Account) ShortName() string {
	return a.Username
}

// DisplayIdentifier returns the email, the label used in logs and listings.
func (a *Account) DisplayIdentifier() string {
	return a.Email
}

func (a *Account) String() string {
	return a.DisplayIdentifier()
}

func (a *Account) IsStaff() bool { return a.Tier >= TierStaff }

func (a *Account) IsAdmin() bool { return a.Tier == TierAdmin }

// IsSuperuser is the same flag as IsAdmin; there is one full tier.
func (a *Account) IsSuperuser() bool { return a.IsAdmin() }

// HasPermission reports whether the account holds perm, optionally scoped to
// target. Deactivated accounts hold nothing; otherwise the account's policy
// decides, and without a policy every permission is granted.
func (a *Account) HasPermission(perm string, target any) bool {
	if !a.IsActive {
		return false
	}
	p := a.Policy
	if p == nil {
		p = AllowAllPolicy{}
	}
	return p.Allows(a, perm, target)
}

// HasModulePermission reports whether the account may see the module at all.
// Only admins do, regardless of individual grants.
func (a *Account) HasModulePermission(label string) bool {
	return a.IsAdmin()
}

// Clone returns a copy that shares no pointers with a.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastLogin != nil {
		t := *a.LastLogin
		c.LastLogin = &t
	}
	return &c
}
