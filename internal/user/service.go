package user

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("user")

type Service struct {
	users  *store.Collection[User]
	alerts alerts.Publisher
	clk    clock.Clock
}

func NewService(b store.Backend, pub alerts.Publisher, clk clock.Clock) *Service {
	if pub == nil {
		pub = alerts.Nop{}
	}
	return &Service{users: store.NewCollection[User](b, Spec), alerts: pub, clk: clk}
}

type RegisterInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    string  `json:"phone"`
	Role     Role    `json:"role"`
	Company  Company `json:"company"`
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return apperr.Validation("a valid email is required")
	}
	if len(in.Password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	if in.Role != RoleSeller && in.Role != RoleBuyer {
		return apperr.Validation("role must be seller or buyer")
	}
	if strings.TrimSpace(in.Company.Name) == "" || strings.TrimSpace(in.Company.RegistrationNumber) == "" {
		return apperr.Validation("company name and registration number are required")
	}
	return nil
}

// Register creates an active account with an unverified company.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		Name:         strings.TrimSpace(in.Name),
		Email:        normalizeEmail(in.Email),
		Phone:        in.Phone,
		PasswordHash: string(hashed),
		Role:         in.Role,
		Status:       StatusActive,
		Company: Company{
			Name:               strings.TrimSpace(in.Company.Name),
			RegistrationNumber: strings.ToUpper(strings.TrimSpace(in.Company.RegistrationNumber)),
			TaxID:              in.Company.TaxID,
			Address:            in.Company.Address,
		},
	}
	if err := s.insert(ctx, u); err != nil {
		return nil, err
	}

	if err := s.alerts.Publish(ctx, alerts.Event{
		Type:   alerts.EventWelcome,
		UserID: u.ID,
		Title:  "Welcome to WasteX, " + u.Name,
		Body:   "Your account for " + u.Company.Name + " is ready. Company verification is pending.",
		Email:  true,
	}); err != nil {
		log.Warnw("welcome notification failed", "user", u.ID, "error", err)
	}
	log.Infow("user registered", "user", u.ID, "role", u.Role)
	return u, nil
}

func (s *Service) insert(ctx context.Context, u *User) error {
	err := s.users.Insert(ctx, u)
	switch {
	case store.IsDuplicate(err, "email"):
		return apperr.Conflict(apperr.CodeDuplicate, "email %s is already registered", u.Email)
	case store.IsDuplicate(err, "company.registrationNumber"):
		return apperr.Conflict(apperr.CodeDuplicate, "company registration number %s is already registered", u.Company.RegistrationNumber)
	}
	return err
}

// Authenticate checks credentials and refuses suspended accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.users.FindOne(ctx, store.Filter{"email": normalizeEmail(email)})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "invalid credentials")
	}
	if u.Status != StatusActive {
		return nil, apperr.Forbidden("account %s", u.Status)
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user", id)
	}
	return u, err
}

// CheckActive fails for accounts that are suspended or deactivated.
func (s *Service) CheckActive(ctx context.Context, id string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Status != StatusActive {
		return apperr.Forbidden("account %s", u.Status)
	}
	return nil
}

// EmailOf satisfies alerts.EmailLookup.
func (s *Service) EmailOf(ctx context.Context, id string) (string, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

type CompanyUpdate struct {
	Name               *string `json:"name"`
	RegistrationNumber *string `json:"registrationNumber"`
	TaxID              *string `json:"taxId"`
	Address            *string `json:"address"`
}

type ProfileUpdate struct {
	Name    *string        `json:"name"`
	Phone   *string        `json:"phone"`
	Bio     *string        `json:"bio"`
	Company *CompanyUpdate `json:"company"`
}

// UpdateProfile applies the non-nil fields. Changing company identity drops
// verification.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		u.Name = strings.TrimSpace(*in.Name)
	}
	if in.Phone != nil {
		u.Phone = *in.Phone
	}
	if in.Bio != nil {
		u.Bio = *in.Bio
	}
	if c := in.Company; c != nil {
		reverify := false
		if c.Name != nil && *c.Name != u.Company.Name {
			u.Company.Name = *c.Name
			reverify = true
		}
		if c.RegistrationNumber != nil {
			reg := strings.ToUpper(strings.TrimSpace(*c.RegistrationNumber))
			if reg == "" {
				return nil, apperr.Validation("registration number cannot be empty")
			}
			if reg != u.Company.RegistrationNumber {
				u.Company.RegistrationNumber = reg
				reverify = true
			}
		}
		if c.TaxID != nil && *c.TaxID != u.Company.TaxID {
			u.Company.TaxID = *c.TaxID
			reverify = true
		}
		if c.Address != nil {
			u.Company.Address = *c.Address
		}
		if reverify {
			u.Company.IsVerified = false
			u.Company.VerifiedAt = nil
			u.Company.VerifiedBy = ""
		}
	}
	if err := s.update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) update(ctx context.Context, u *User) error {
	err := s.users.Update(ctx, u)
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return apperr.Conflict(apperr.CodeConcurrentUpdate, "user %s was modified concurrently, retry", u.ID)
	case store.IsDuplicate(err, "company.registrationNumber"):
		return apperr.Conflict(apperr.CodeDuplicate, "company registration number %s is already registered", u.Company.RegistrationNumber)
	case store.IsDuplicate(err, "email"):
		return apperr.Conflict(apperr.CodeDuplicate, "email %s is already registered", u.Email)
	}
	return err
}

// RequestPasswordReset mails a reset link to an active account. Unknown
// emails succeed silently so callers cannot tell which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, link func(u *User) (string, error)) error {
	u, err := s.ByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.Status != StatusActive {
		return nil
	}
	url, err := link(u)
	if err != nil {
		return err
	}
	return s.alerts.Publish(ctx, alerts.Event{
		Type:   alerts.EventPasswordReset,
		UserID: u.ID,
		Title:  "Reset your password",
		Body:   "Hi " + u.Name + ", use this link to choose a new password: " + url,
		Email:  true,
	})
}

func (s *Service) ResetPassword(ctx context.Context, userID, password string) error {
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashed)
	if err := s.update(ctx, u); err != nil {
		return err
	}
	log.Infow("password reset", "user", u.ID)
	return nil
}

// VerifyCompany marks the user's company as verified by an admin.
func (s *Service) VerifyCompany(ctx context.Context, adminID, userID string) (*User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Company.IsVerified {
		return u, nil
	}
	now := s.clk.Now().UTC()
	u.Company.IsVerified = true
	u.Company.VerifiedAt = &now
	u.Company.VerifiedBy = adminID
	if err := s.update(ctx, u); err != nil {
		return nil, err
	}
	if err := s.alerts.Publish(ctx, alerts.Event{
		Type:   alerts.EventCompanyVerified,
		UserID: u.ID,
		Title:  "Company verified",
		Body:   u.Company.Name + " has been verified.",
		Email:  true,
	}); err != nil {
		log.Warnw("verification notification failed", "user", u.ID, "error", err)
	}
	return u, nil
}

// SetStatus suspends or reactivates an account. Accounts are never deleted.
func (s *Service) SetStatus(ctx context.Context, userID string, status Status) (*User, error) {
	switch status {
	case StatusActive, StatusSuspended, StatusDeactivated:
	default:
		return nil, apperr.Validation("unknown status %q", status)
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Status == status {
		return u, nil
	}
	u.Status = status
	if err := s.update(ctx, u); err != nil {
		return nil, err
	}
	log.Infow("user status changed", "user", u.ID, "status", status)
	return u, nil
}

func (s *Service) ByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.users.FindOne(ctx, store.Filter{"email": normalizeEmail(email)})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user", email)
	}
	return u, err
}

// SetRoleByEmail is used by the admin CLI and the bootstrap endpoint.
func (s *Service) SetRoleByEmail(ctx context.Context, email string, role Role) (*User, error) {
	u, err := s.ByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u.Role = role
	if err := s.update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

type ListFilter struct {
	Role   string
	Status string
	Search string
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*User, error) {
	q := store.Query{Where: store.Filter{}, Limit: f.Limit, Offset: f.Offset}
	if f.Role != "" {
		q.Where["role"] = f.Role
	}
	if f.Status != "" {
		q.Where["status"] = f.Status
	}
	if f.Search != "" {
		q.Search = f.Search
		q.SearchFields = []string{"name", "email", "company.name"}
	}
	return s.users.Find(ctx, q)
}
