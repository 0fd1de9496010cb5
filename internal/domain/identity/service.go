package identity

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/internal/platform/auth"
)

// loginFailedMsg is deliberately identical for unknown emails, wrong
// passwords and deactivated accounts.
const loginFailedMsg = "invalid credentials"

type Service struct {
	repo   Repository
	issuer *auth.TokenIssuer
}

func NewService(repo Repository, issuer *auth.TokenIssuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// Login checks credentials and returns a signed token plus the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return "", nil, apperr.Unauthorized(loginFailedMsg)
		}
		return "", nil, err
	}
	if !u.IsActive {
		return "", nil, apperr.Unauthorized(loginFailedMsg)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, apperr.Unauthorized(loginFailedMsg)
	}
	token, err := s.issuer.Issue(u.ID.String(), u.Email, u.Role)
	if err != nil {
		return "", nil, apperr.Internal(err, "sign token")
	}
	return token, u, nil
}

// Register creates an account with a hashed password. Callers enforce the
// admin-only restriction at the route level.
func (s *Service) Register(ctx context.Context, u *User, password string) error {
	u.Normalize()
	if err := u.Validate(); err != nil {
		return err
	}
	if len(password) < 8 {
		return apperr.Invalid("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Internal(err, "hash password")
	}
	u.PasswordHash = string(hash)
	u.IsActive = true
	return s.repo.Create(ctx, u)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// SetActive toggles account status without touching credentials.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.IsActive = active
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ActiveCountsByRole feeds the stats dashboard.
func (s *Service) ActiveCountsByRole(ctx context.Context) (map[string]int, error) {
	return s.repo.CountActiveByRole(ctx)
}
