package user

import (
	"time"

	"github.com/sudo-init-do/wastex/internal/store"
)

type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusSuspended   Status = "suspended"
	StatusDeactivated Status = "deactivated"
)

// Company is the verified organization behind an account.
type Company struct {
	Name               string     `json:"name"`
	RegistrationNumber string     `json:"registrationNumber"`
	TaxID              string     `json:"taxId,omitempty"`
	Address            string     `json:"address,omitempty"`
	IsVerified         bool       `json:"isVerified"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy         string     `json:"verifiedBy,omitempty"`
}

type User struct {
	store.Meta
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone,omitempty"`
	PasswordHash string  `json:"passwordHash"`
	Role         Role    `json:"role"`
	Status       Status  `json:"status"`
	Company      Company `json:"company"`
	Bio          string  `json:"bio,omitempty"`
}

// Spec is the users collection. Email and company registration number are
// globally unique.
var Spec = store.Spec{
	Name:   "users",
	Unique: []string{"email", "company.registrationNumber"},
}

// Profile is the user as returned by the API.
type Profile struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	Company   Company   `json:"company"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		Status:    u.Status,
		Company:   u.Company,
		Bio:       u.Bio,
		CreatedAt: u.CreatedAt,
	}
}

// Public hides contact details.
func (u *User) Public() Profile {
	p := u.Profile()
	p.Email = ""
	p.Phone = ""
	p.Company.TaxID = ""
	return p
}
