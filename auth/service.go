package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/logging"
)

// User is an authenticated principal.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"displayName"`
	Role         string     `json:"role"` // "user" | "admin"
	Active       bool       `json:"active"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Repository is the document-store slice the auth service depends on.
// storepg.UserRepo satisfies this.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// Config carries the two JWT signing secrets and their TTLs.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Service implements registration, login, refresh rotation, and
// logout (C3's session half; Denylist is the revocation half).
type Service struct {
	repo     Repository
	denylist *Denylist
	cfg      Config
	audit    *logging.AuditLogger
}

// NewService wires a Repository and Denylist behind the given config.
func NewService(repo Repository, denylist *Denylist, cfg Config) *Service {
	return &Service{repo: repo, denylist: denylist, cfg: cfg}
}

// SetAuditLogger attaches an audit trail for authentication events.
// Nil-safe: a Service with no audit logger attached simply skips the
// calls below.
func (s *Service) SetAuditLogger(audit *logging.AuditLogger) {
	s.audit = audit
}

// Register creates a new user and returns a fresh token pair.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*TokenPair, *User, error) {
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, nil, apperr.New(apperr.Conflict, "email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Role:         "user",
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "create user", err)
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Login verifies credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password, ipAddress string) (*TokenPair, *User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		logging.Warn("login failed: unknown email", logging.String("email", email))
		if s.audit != nil {
			s.audit.LogAuthenticationFailed(ctx, email, ipAddress, "unknown email")
		}
		return nil, nil, apperr.New(apperr.AuthInvalid, "invalid credentials")
	}

	if !user.Active {
		return nil, nil, apperr.New(apperr.Forbidden, "account deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logging.Warn("login failed: bad password", logging.String("user_id", user.ID))
		if s.audit != nil {
			s.audit.LogAuthenticationFailed(ctx, email, ipAddress, "bad password")
		}
		return nil, nil, apperr.New(apperr.AuthInvalid, "invalid credentials")
	}

	now := time.Now()
	_ = s.repo.UpdateLastLogin(ctx, user.ID, now)
	user.LastLogin = &now

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	if s.audit != nil {
		s.audit.LogAuthentication(ctx, user.ID, ipAddress, "password")
	}
	return pair, user, nil
}

// Refresh validates a refresh token, blacklists it, and mints a new
// pair — rotation, per spec: the presented refresh token is
// single-use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := validateToken(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return nil, apperr.New(apperr.AuthInvalid, "invalid refresh token")
	}

	blacklisted, err := s.denylist.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		logging.Warn("denylist check failed during refresh", logging.String("error", err.Error()))
	}
	if blacklisted {
		return nil, apperr.New(apperr.AuthInvalid, "refresh token revoked")
	}

	user, err := s.repo.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return nil, apperr.New(apperr.AuthInvalid, "unknown user")
	}
	if !user.Active {
		return nil, apperr.New(apperr.Forbidden, "account deactivated")
	}

	if err := s.denylist.Blacklist(ctx, refreshToken); err != nil {
		logging.Warn("failed to blacklist rotated refresh token", logging.String("error", err.Error()))
	}

	return s.issuePair(user)
}

// Logout revokes a refresh token immediately.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := s.denylist.Blacklist(ctx, refreshToken); err != nil {
		return err
	}
	if s.audit != nil {
		if claims, err := parseClaimsUnverified(refreshToken); err == nil {
			s.audit.LogTokenRevoked(ctx, claims.Sub, "logout")
		}
	}
	return nil
}

// ValidateAccessToken verifies signature, expiry, and both denylist
// checks (token-level and user-level cutoff).
func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := validateToken(accessToken, s.cfg.AccessSecret)
	if err != nil {
		return nil, apperr.New(apperr.AuthInvalid, "invalid access token")
	}

	blacklisted, err := s.denylist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		logging.Warn("denylist check failed during validation", logging.String("error", err.Error()))
	}
	if blacklisted {
		return nil, apperr.New(apperr.AuthInvalid, "token revoked")
	}

	if claims.IssuedAt != nil {
		revoked, err := s.denylist.IsUserBlacklistedAt(ctx, claims.Sub, claims.IssuedAt.Time.UnixMilli())
		if err != nil {
			logging.Warn("user denylist check failed during validation", logging.String("error", err.Error()))
		}
		if revoked {
			return nil, apperr.New(apperr.AuthInvalid, "token revoked")
		}
	}

	return claims, nil
}

func (s *Service) issuePair(user *User) (*TokenPair, error) {
	access, err := generateToken(user, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate access token", err)
	}
	refresh, err := generateToken(user, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate refresh token", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
