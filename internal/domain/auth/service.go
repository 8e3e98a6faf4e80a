package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const TokenTTL = 8 * time.Hour

type UserStore interface {
	FindActiveUserByEmail(ctx context.Context, email string) (AuthUser, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

type Service struct {
	Store  UserStore
	Secret string
}

func NewService(store UserStore, secret string) *Service {
	return &Service{Store: store, Secret: secret}
}

type LoginResult struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

type LoginUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.Store.FindActiveUserByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if err := CheckPassword(user.Password, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	token, err := GenerateToken(s.Secret, Claims{UserID: user.ID, RoleName: user.Role, Name: user.Name}, TokenTTL)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Store.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("update last_login failed", "userId", user.ID, "err", err)
	}
	return LoginResult{
		Token: token,
		User:  LoginUser{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role},
	}, nil
}
