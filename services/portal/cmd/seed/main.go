package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/services/portal/internal/config"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/argon2"
)

// Kept in sync with services/testutil.
const (
	supervisorID  = "00000000-0000-0000-0000-000000000001"
	entityAdminID = "00000000-0000-0000-0000-000000000002"
	requesterID   = "00000000-0000-0000-0000-000000000003"
	seedPassword  = "Portal!Passw0rd"
)

type seedUser struct {
	id          string
	email       string
	displayName string
	phone       string
	nationalID  string
	role        string
}

var users = []seedUser{
	{id: supervisorID, email: "supervisor@uknf.gov.pl", displayName: "Anna Nowak", phone: "+48 22 262 50 00", role: auth.RoleSupervisor},
	{id: entityAdminID, email: "admin@bank-example.pl", displayName: "Piotr Wiśniewski", phone: "+48 600 100 200", nationalID: "85020312345", role: auth.RoleEntityAdmin},
	{id: requesterID, email: "jan.kowalski@bank-example.pl", displayName: "Jan Kowalski", phone: "+48 600 300 400", nationalID: "90010112345", role: auth.RoleSubmitter},
}

var memberships = []storage.MembershipChange{
	{UserID: entityAdminID, EntityID: "ent-1", Role: storage.MembershipAdmin, Active: true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.App.IsLocal() {
		log.Fatalf("refusing to seed: PORTAL_ENV must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	if !cfg.DB.Configured() {
		log.Fatalf("refusing to seed: no database configured (set PORTAL_DB_HOST)")
	}

	if err := storage.Migrate(cfg.DB.DSN()); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Migrations applied")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	store := storage.New(pool)

	for _, e := range storage.DemoEntities() {
		if err := store.UpsertEntity(ctx, e); err != nil {
			log.Fatalf("seed entity %s: %v", e.ID, err)
		}
	}
	fmt.Println("✓ Entities seeded")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	for _, m := range memberships {
		if err := store.UpsertMembership(ctx, m); err != nil {
			log.Fatalf("seed membership %s/%s: %v", m.UserID, m.EntityID, err)
		}
	}
	fmt.Println("✓ Memberships seeded")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials (password " + seedPassword + "):")
	for _, u := range users {
		fmt.Printf("  %-30s %s\n", u.email, u.role)
	}
}

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	params := argon2Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}

	for _, u := range users {
		hash, err := hashPassword(seedPassword, params)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.email, err)
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO portal_users (id, email, password_hash, display_name, phone, national_id, role, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
			ON CONFLICT (email) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
			    display_name = EXCLUDED.display_name,
			    phone = EXCLUDED.phone,
			    national_id = EXCLUDED.national_id,
			    role = EXCLUDED.role,
			    status = 'active'
		`, uuid.MustParse(u.id), u.email, hash, u.displayName, u.phone, u.nationalID, u.role)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", u.email, err)
		}
	}
	return nil
}
