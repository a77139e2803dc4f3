package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/app"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/seed"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
	"github.com/odyssey-dms/odyssey-dms/migrations"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	codec, err := app.NewCodec(cfg, logger, nil)
	if err != nil {
		log.Fatalf("init codec: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if _, err := migrations.Up(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	auditLogger := shared.NewAuditLogger(pool, codec)
	rbacService := rbac.NewService(rbac.NewRepository(pool, codec), auditLogger, logger, rbac.WithPrivilegedRole(cfg.PrivilegedRole))

	fmt.Println("→ Seeding permissions and roles...")
	res, err := seed.Apply(ctx, rbacService, cfg.PrivilegedRole, logger)
	if err != nil {
		log.Fatalf("seed rbac: %v", err)
	}
	fmt.Printf("  permissions created: %d, roles created: %d, roles synced: %d\n",
		res.PermissionsCreated, res.RolesCreated, res.RolesSynced)

	email := os.Getenv("SEED_ADMIN_EMAIL")
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email != "" && password != "" {
		fmt.Println("→ Seeding privileged account...")
		if err := seedAccount(ctx, users.NewService(users.NewRepository(pool, codec), rbacService, codec, auditLogger, logger), rbacService, cfg.PrivilegedRole, email, password); err != nil {
			log.Fatalf("seed account: %v", err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedAccount(ctx context.Context, svc *users.Service, roles *rbac.Service, roleName, email, password string) error {
	if _, err := svc.FindByEmail(ctx, email); err == nil {
		fmt.Println("  account exists, skipping")
		return nil
	} else if !errors.Is(err, users.ErrNotFound) {
		return err
	}
	role, err := roles.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	u, err := svc.Create(ctx, users.CreateInput{
		FirstName: "System",
		LastName:  roleName,
		Email:     email,
		Password:  password,
		RoleID:    &role.ID,
	}, nil)
	if err != nil {
		return err
	}
	slog.Default().Info("seeded account", slog.Int64("user_id", u.ID))
	return nil
}
