// Command tokengen mints access tokens for kiosks and kitchen displays.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/example/cafe-orders/internal/auth"
	"github.com/example/cafe-orders/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	role := pflag.String("role", auth.RoleStaff, "token role: kiosk, staff or admin")
	subject := pflag.String("subject", "kitchen-display", "device or user the token is issued to")
	ttl := pflag.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRY)")
	pflag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ValidateJWT(); err != nil {
		log.Fatal(err)
	}

	expiry := cfg.JWT.Expiry
	if *ttl > 0 {
		expiry = *ttl
	}
	token, expiresAt, err := auth.NewJWTService(cfg.JWT.Secret, expiry).GenerateAccessToken(*subject, "", *role)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(os.Stderr, "role=%s subject=%s expires=%s\n", *role, *subject, expiresAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Println(token)
}
