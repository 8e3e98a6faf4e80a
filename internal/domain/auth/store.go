package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const UserStatusActive = "active"

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

type AuthUser struct {
	ID       string
	Name     string
	Email    string
	Role     string
	Password string
}

func (s *Store) FindActiveUserByEmail(ctx context.Context, email string) (AuthUser, error) {
	var out AuthUser
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, email, role, password_hash
    FROM users
    WHERE lower(email) = lower($1) AND status = $2
  `, email, UserStatusActive).Scan(&out.ID, &out.Name, &out.Email, &out.Role, &out.Password)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, ErrInvalidCredentials
	}
	return out, err
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := s.DB.Exec(ctx, "UPDATE users SET last_login = now() WHERE id = $1", userID)
	return err
}

// EnsureUser creates the user when the email is unknown and returns its id.
func (s *Store) EnsureUser(ctx context.Context, name, email, passwordHash, role string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO users (name, email, password_hash, role, status)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
    RETURNING id
  `, name, email, passwordHash, role, UserStatusActive).Scan(&id)
	return id, err
}

// RolePolicy loads the role to permission policy kept in the database.
func (s *Store) RolePolicy(ctx context.Context) (map[string][]string, error) {
	rows, err := s.DB.Query(ctx, "SELECT role, permission FROM role_permissions ORDER BY role, permission")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policy := map[string][]string{}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		policy[role] = append(policy[role], perm)
	}
	return policy, rows.Err()
}
