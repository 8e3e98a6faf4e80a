package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/platform/config"
)

// Seed installs the built-in role policy and the bootstrap administrator.
// Both steps are idempotent; stages are seeded by the initial migration.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if err := ensureRolePermissions(ctx, pool); err != nil {
		return err
	}
	return ensureAdminUser(ctx, pool, cfg.SeedAdminName, cfg.SeedAdminEmail, cfg.SeedAdminPassword)
}

func ensureRolePermissions(ctx context.Context, pool *pgxpool.Pool) error {
	for role, perms := range auth.RolePermissions {
		for _, perm := range perms {
			_, err := pool.Exec(ctx, "INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING", role, perm)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, name, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = auth.NewStore(pool).EnsureUser(ctx, name, email, hash, auth.RoleAdministrator)
	return err
}
