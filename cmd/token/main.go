// Command token issues a bearer token for an account so the registry API can
// be driven from curl during development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"claimreg/internal/platform/auth"
	"claimreg/internal/platform/config"
	"claimreg/pkg/domain"
)

func main() {
	account := flag.String("account", "", "account id (uuid); a random one is generated when empty")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	id := domain.AccountID(uuid.New())
	if *account != "" {
		id, err = domain.ParseAccountID(*account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "account: %v\n", err)
			os.Exit(2)
		}
	}

	token, err := auth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer).GenerateToken(id, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "account: %s\n", id)
	fmt.Println(token)
}
