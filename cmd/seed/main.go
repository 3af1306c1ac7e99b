// seed inserts development data: one provider org, two customer orgs, a provider
// admin and technicians. Idempotent: rows that already exist are left alone.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"msp-identity-core/internal/audit"
	auditrepo "msp-identity-core/internal/audit/repository"
	"msp-identity-core/internal/config"
	"msp-identity-core/internal/db"
	orgdomain "msp-identity-core/internal/organization/domain"
	orgrepo "msp-identity-core/internal/organization/repository"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
	userrepo "msp-identity-core/internal/user/repository"
)

const devPassword = "Dev-Password-2026!"

// seedNamespace derives stable ids so reruns address the same rows.
var seedNamespace = uuid.MustParse("6f1c3a52-8d0e-4f7a-9b2c-5e4d3c2b1a00")

func seedID(name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(name)).String()
}

type orgSeed struct {
	key      string
	name     string
	kind     orgdomain.OrgKind
	settings orgdomain.Settings
}

type userSeed struct {
	org   string
	email string
	name  string
	role  userdomain.Role
}

var orgs = []orgSeed{
	{key: "provider", name: "Northwind MSP", kind: orgdomain.OrgKindProvider, settings: orgdomain.DefaultSettings()},
	{key: "acme", name: "Acme Manufacturing", kind: orgdomain.OrgKindCustomer, settings: orgdomain.DefaultSettings()},
	{key: "globex", name: "Globex Health", kind: orgdomain.OrgKindCustomer, settings: orgdomain.Settings{
		Version: orgdomain.SettingsVersion, Timezone: "America/Chicago", RequireMFA: true,
	}},
}

var users = []userSeed{
	{org: "provider", email: "admin@northwind.example", name: "Avery Admin", role: userdomain.RoleProviderAdmin},
	{org: "provider", email: "senior@northwind.example", name: "Sam Senior", role: userdomain.RoleSeniorTechnician},
	{org: "provider", email: "tech1@northwind.example", name: "Taylor Tech", role: userdomain.RoleTechnician},
	{org: "provider", email: "tech2@northwind.example", name: "Jordan Tech", role: userdomain.RoleTechnician},
	{org: "acme", email: "it@acme.example", name: "Casey Customer", role: userdomain.RoleCustomerAdmin},
	{org: "globex", email: "it@globex.example", name: "Riley Customer", role: userdomain.RoleCustomerAdmin},
}

type orgStore interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
	CreateOrganization(ctx context.Context, o *orgdomain.Org) error
}

// recorder is the audit surface seeding reports through.
type recorder interface {
	OrganizationChanged(ctx context.Context, op audit.Op, orgID, name string, changes map[string]string)
	UserChanged(ctx context.Context, op audit.Op, userID, orgID, email string, changes map[string]string)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// seed creates whatever is missing and reports how many orgs and users it inserted.
func seed(ctx context.Context, orgSt orgStore, userSt userStore, rec recorder, hasher *security.Hasher, now time.Time) (int, int, error) {
	var createdOrgs, createdUsers int
	for _, o := range orgs {
		id := seedID("org/" + o.key)
		existing, err := orgSt.GetOrganizationByID(ctx, id)
		if err != nil {
			return createdOrgs, createdUsers, fmt.Errorf("lookup org %s: %w", o.name, err)
		}
		if existing != nil {
			continue
		}
		if err := orgSt.CreateOrganization(ctx, &orgdomain.Org{
			ID: id, Name: o.name, Kind: o.kind, Status: orgdomain.OrgStatusActive,
			Settings: o.settings, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return createdOrgs, createdUsers, fmt.Errorf("create org %s: %w", o.name, err)
		}
		rec.OrganizationChanged(ctx, audit.OpCreate, id, o.name, map[string]string{"kind": string(o.kind), "source": "seed"})
		createdOrgs++
	}

	var hash string
	for _, u := range users {
		existing, err := userSt.GetByEmail(ctx, u.email)
		if err != nil {
			return createdOrgs, createdUsers, fmt.Errorf("lookup user %s: %w", u.email, err)
		}
		if existing != nil {
			continue
		}
		if hash == "" {
			if hash, err = hasher.Hash(devPassword); err != nil {
				return createdOrgs, createdUsers, fmt.Errorf("hash password: %w", err)
			}
		}
		id, orgID := seedID("user/"+u.email), seedID("org/"+u.org)
		if err := userSt.Create(ctx, &userdomain.User{
			ID: id, OrgID: orgID, Email: u.email, Name: u.name,
			Role: u.role, Status: userdomain.UserStatusActive, PasswordHash: hash, PasswordChangedAt: now,
			MFAStatus: userdomain.MFAUnenrolled, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return createdOrgs, createdUsers, fmt.Errorf("create user %s: %w", u.email, err)
		}
		rec.UserChanged(ctx, audit.OpCreate, id, orgID, u.email, map[string]string{"role": string(u.role), "source": "seed"})
		createdUsers++
	}
	return createdOrgs, createdUsers, nil
}

func main() {
	cfg, err := config.LoadStorage()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	nOrgs, nUsers, err := seed(ctx, orgrepo.NewPostgresRepository(conn), userrepo.NewPostgresRepository(conn),
		audit.NewService(auditrepo.NewPostgresRepository(conn), nil), security.NewHasher(cfg.BcryptCost), time.Now().UTC())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if nOrgs == 0 && nUsers == 0 {
		log.Println("Seed already applied. Skipping.")
		return
	}
	log.Printf("Seed completed: %d orgs, %d users.", nOrgs, nUsers)
	for _, u := range users {
		fmt.Printf("%-18s %s / %s\n", u.role, u.email, devPassword)
	}
}
