// seed-admin bootstraps a fresh database: it creates an organization and its
// owner profile so the API has a login to start from.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/seed-admin --org-name "Acme Health Sharing" --email owner@acme.test --password changeme
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
)

func main() {
	orgName := flag.String("org-name", "", "Required: organization name")
	email := flag.String("email", "", "Required: owner login email")
	password := flag.String("password", "", "Required: owner password")
	name := flag.String("name", "Owner", "Owner display name")
	flag.Parse()

	if strings.TrimSpace(*orgName) == "" || strings.TrimSpace(*email) == "" || strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "--org-name, --email and --password are required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	org, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:  *orgName,
		Email: *email,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create organization: %v\n", err)
		os.Exit(1)
	}

	profile, err := models.CreateProfile(ctx, &models.NewProfile{
		OrganizationId: org.ID.String(),
		Email:          *email,
		Name:           *name,
		Password:       *password,
		Role:           models.ProfileRoleOwner,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create owner profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("organization=%s owner_profile_id=%d email=%s\n", org.ID, profile.ID, profile.Email)
}
