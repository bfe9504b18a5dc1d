// Command devtoken mints a staff bearer token signed with the shared secret,
// for local testing of the guarded ticket routes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/spec-kit/rmf-intake/internal/auth"
	"github.com/spec-kit/rmf-intake/internal/domain"
)

func main() {
	_ = godotenv.Load()

	subject := pflag.StringP("subject", "s", "", "staff id placed in the token subject")
	role := pflag.StringP("role", "r", string(domain.StaffRoleStaff), "staff role (STAFF or ADMIN)")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	secret := pflag.String("secret", os.Getenv("AUTH_JWT_SECRET"), "signing secret (defaults to AUTH_JWT_SECRET)")
	pflag.Parse()

	if *subject == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "devtoken: --subject and a signing secret are required")
		pflag.Usage()
		os.Exit(2)
	}

	tokens := auth.NewTokenManager(*secret, 0)
	token, expiresAt, err := tokens.GenerateToken(*subject, domain.StaffRole(*role), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
