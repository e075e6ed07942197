package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go-invoice-stock/internal/config"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/pkg/jwt"

	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "", "Required: operator id recorded as token subject")
	name := flag.String("name", "", "Operator name shown on ledger entries")
	privs := flag.String("privileges", "all", "Comma separated privilege codes, or 'all'")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to JWT_TTL)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, relying on system env")
	}
	cfg := config.Load()

	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(os.Stderr, "--subject is required")
		os.Exit(1)
	}

	var codes []string
	if *privs == "all" {
		for _, p := range model.DefaultPrivileges {
			codes = append(codes, p.Code)
		}
	} else {
		for _, code := range strings.Split(*privs, ",") {
			code = strings.TrimSpace(code)
			if !model.IsKnownPrivilege(code) {
				fmt.Fprintf(os.Stderr, "unknown privilege %q\n", code)
				os.Exit(1)
			}
			codes = append(codes, code)
		}
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.JWT.TTL
	}
	displayName := *name
	if displayName == "" {
		displayName = *subject
	}

	token, err := jwt.GenerateToken([]byte(cfg.JWT.Secret), *subject, displayName, codes, lifetime)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
