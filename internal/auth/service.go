// Package auth issues credentials for students and counsellors. The booking
// core never touches it; identity arrives there as an already-resolved value.
package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/booking"
)

var ErrBadCredentials = errors.New("invalid email or password")

// UserStore is the slice of the repository auth needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*booking.User, error)
	CreateUser(ctx context.Context, u *booking.User) (*booking.User, error)
}

type Service struct {
	store  UserStore
	secret string
	logger *zerolog.Logger
}

func NewService(store UserStore, secret string, logger *zerolog.Logger) *Service {
	return &Service{store: store, secret: secret, logger: logger}
}

// Register creates a user with the given role. A duplicate email surfaces
// booking.ErrUserExists.
func (s *Service) Register(ctx context.Context, name, email, password string, role booking.Role) (*booking.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, &booking.User{
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("email", email).Str("role", string(role)).Msg("user registered")
	return user, nil
}

// Login checks the password for a user of the expected role and returns a
// signed access token. Wrong email, wrong password and wrong role all come
// back as the same ErrBadCredentials.
func (s *Service) Login(ctx context.Context, email, password string, role booking.Role) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, booking.ErrUserNotFound) {
			return "", ErrBadCredentials
		}
		return "", err
	}
	if user.Role != role || !CheckPassword(user.PasswordHash, password) {
		return "", ErrBadCredentials
	}

	return MakeToken(user, s.secret)
}
