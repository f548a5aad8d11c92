package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
)

func main() {
	var (
		nameFlag    string
		tokensFlag  string
		scopeFlag   string
		disableFlag bool
	)
	flag.StringVar(&nameFlag, "name", "", "account name")
	flag.StringVar(&tokensFlag, "tokens", "", "comma separated tokens (fallbacks to ACCOUNT_TOKENS)")
	flag.StringVar(&scopeFlag, "scope", "", "project or workspace id sent with uploads")
	flag.BoolVar(&disableFlag, "disable", false, "disable the account instead of storing tokens")
	flag.Parse()

	name := strings.TrimSpace(nameFlag)
	if name == "" {
		fmt.Fprintln(os.Stderr, "-name is required")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "accountkey").Str("account", name).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if disableFlag {
		if err := store.Disable(ctx, name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to disable %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("account %s disabled\n", name)
		return
	}

	raw := tokensFlag
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("ACCOUNT_TOKENS")
	}
	cred := credentials.Credential{
		Name:     name,
		Provider: credentials.ProviderVideo,
		Tokens:   strings.Split(raw, ","),
		ScopeID:  scopeFlag,
		Enabled:  true,
	}
	if err := store.Upsert(ctx, cred); err != nil {
		fmt.Fprintf(os.Stderr, "failed to store account %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("account %s stored\n", name)
}
