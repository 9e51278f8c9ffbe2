// Package auth is the thin identity glue around the core: login with a
// personal PIN, opaque session tokens, and resolution of a token back to the
// acting principal. Role checks themselves live with the entry points, via
// canteen.Principal.Can.
package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

var (
	ErrInvalidCredentials = errors.New("invalid login or pin")
	ErrNoSession          = errors.New("no session")
)

type Session struct {
	UserID string       `json:"user_id"`
	Role   canteen.Role `json:"role"`
}

// SessionStore keeps token -> session with a TTL. Redis in production, the
// in-memory variant in tests.
type SessionStore interface {
	Put(ctx context.Context, token string, s Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (Session, error)
}

type Service struct {
	Store    canteen.Store
	Sessions SessionStore
	TTL      time.Duration
}

func (s *Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 12 * time.Hour
}

func HashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login verifies the PIN and issues an opaque session token.
func (s *Service) Login(ctx context.Context, login, pin string) (string, canteen.Principal, error) {
	var user *canteen.User
	err := s.Store.InTx(ctx, func(tx canteen.Tx) error {
		u, err := tx.UserByLogin(ctx, login)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if errors.Is(err, canteen.ErrUserNotFound) {
		return "", canteen.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", canteen.Principal{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)) != nil {
		return "", canteen.Principal{}, ErrInvalidCredentials
	}

	token, err := canteen.NewToken()
	if err != nil {
		return "", canteen.Principal{}, err
	}
	p := canteen.Principal{UserID: user.ID, Role: user.Role}
	if err := s.Sessions.Put(ctx, token, Session{UserID: p.UserID, Role: p.Role}, s.ttl()); err != nil {
		return "", canteen.Principal{}, err
	}
	return token, p, nil
}

// Principal resolves a session token to the acting principal.
func (s *Service) Principal(ctx context.Context, token string) (canteen.Principal, error) {
	if token == "" {
		return canteen.Principal{}, ErrNoSession
	}
	sess, err := s.Sessions.Get(ctx, token)
	if err != nil {
		return canteen.Principal{}, err
	}
	return canteen.Principal{UserID: sess.UserID, Role: sess.Role}, nil
}
