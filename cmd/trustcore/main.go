// Command trustcore runs the identity and trust server.
//
//	trustcore                 serve (default)
//	trustcore keygen          print fresh signing, biometric and MFA keys
//	trustcore service-token   mint a service token: -name billing -perms users:read,users:write
//	trustcore migrate         apply the embedded schema and exit
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"trustcore/cmd/internal/app"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/schema"
	"trustcore/cmd/security/aead"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "serve" {
		return app.Run()
	}
	switch args[0] {
	case "keygen":
		return keygen(out)
	case "service-token":
		return serviceToken(args[1:], out)
	case "migrate":
		return migrate()
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func keygen(out io.Writer) error {
	signing, err := tokens.GenerateSigningKey()
	if err != nil {
		return err
	}
	bio, err := randomKey()
	if err != nil {
		return err
	}
	mfa, err := randomKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "TRUSTCORE_TOKEN_SIGNING_KEY=%s\nTRUSTCORE_BIOMETRIC_KEY=%s\nTRUSTCORE_MFA_KEY=%s\n", signing, bio, mfa)
	return err
}

func randomKey() (string, error) {
	key, err := aead.GenerateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func serviceToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("service-token", flag.ContinueOnError)
	name := fs.String("name", "", "service name (token subject)")
	perms := fs.String("perms", "", "comma separated permissions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("service-token: -name is required")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Tokens.SigningKey == "" {
		return errors.New("service-token: TRUSTCORE_TOKEN_SIGNING_KEY is not set")
	}
	tm, err := tokens.NewManagerFromConfig(cfg.Tokens)
	if err != nil {
		return err
	}

	var list []string
	for _, p := range strings.Split(*perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	issued, err := tm.IssueService(strings.TrimSpace(*name), list, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, issued.Token)
	return err
}

func migrate() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: TRUSTCORE_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := schema.Migrate(ctx, pool, cfg.DBSchema)
	if err != nil {
		return err
	}
	log.Printf("migrate: applied %d migrations to schema %q", n, cfg.DBSchema)
	return nil
}
