// Package auth provides registration, login and the identity checks the
// gateway performs during the Identify handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

// MaxUsernameLength bounds account names.
const MaxUsernameLength = 32

var (
	// ErrInvalidCredentials is returned when a token or username/password
	// pair does not resolve to a user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registering a name already in use.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when a username violates constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when a password violates constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Status is the account-state verdict consulted before any action.
type Status struct {
	Allowed bool
	Reason  string
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	ids       *snowflake.Generator
}

// NewService creates an authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, ids *snowflake.Generator) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		ids:       ids,
	}
}

// Register creates a new account in the waitlist state. An admin must
// approve it before the user can log in.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	username, err := s.validateUsername(ctx, username, 0)
	if err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           s.ids.Generate(),
		Username:     username,
		PasswordHash: hash,
		State:        store.UserStateWaitlist,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// validateUsername trims and checks a candidate name, including the
// case-insensitive collision check. The store's unique index backs the
// check up against races.
// self is excluded from the collision check so case-only renames work.
func (s *Service) validateUsername(ctx context.Context, username string, self snowflake.ID) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > MaxUsernameLength || strings.Contains(username, " ") {
		return "", ErrInvalidUsername
	}
	if existing, err := s.store.GetUserByUsername(ctx, username); err == nil && existing != nil && existing.ID != self {
		return "", ErrUserExists
	}
	return username, nil
}

// ChangeUsername renames an account and mutates user in place on success.
func (s *Service) ChangeUsername(ctx context.Context, user *store.User, username string) error {
	username, err := s.validateUsername(ctx, username, user.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUsername(ctx, user.ID, username); err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	user.Username = username
	return nil
}

// ChangePassword rehashes and stores a new password. Tokens issued before
// the change stay valid; the caller decides whether to revoke sessions.
func (s *Service) ChangePassword(ctx context.Context, user *store.User, password string) error {
	if len(password) < 6 {
		return ErrInvalidPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hash
	return nil
}

// Login validates credentials and returns a session token. The caller is
// expected to check Status separately so a blocked account gets its
// specific reason.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a fresh session token for a user.
func (s *Service) IssueToken(user *store.User) (string, error) {
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username, user.Admin)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Authenticate resolves a session token to its user. This is the identity
// lookup the gateway performs on Identify.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// UserStatus reports whether an account may act right now. A suspension
// whose deadline has passed is lifted here as a side effect: the account
// flips back to active and the verdict is allowed.
func (s *Service) UserStatus(ctx context.Context, user *store.User) (Status, error) {
	switch user.State {
	case store.UserStateWaitlist:
		return Status{Reason: "You are on the waitlist."}, nil

	case store.UserStateSuspended:
		if user.SuspendedUntil != nil && !user.SuspendedUntil.After(time.Now()) {
			if err := s.store.SetUserState(ctx, user.ID, store.UserStateActive, nil, nil); err != nil {
				return Status{}, fmt.Errorf("reactivate user: %w", err)
			}
			user.State = store.UserStateActive
			user.SuspendedUntil = nil
			user.SuspendedReason = nil
			return Status{Allowed: true}, nil
		}

		reason := "This account is suspended"
		if user.SuspendedUntil != nil {
			reason += " until " + user.SuspendedUntil.Format("01/02/2006, 3:04 PM")
		}
		reason += "."
		if user.SuspendedReason != nil {
			reason += " Reason: " + *user.SuspendedReason
		}
		return Status{Reason: reason}, nil

	default:
		return Status{Allowed: true}, nil
	}
}
