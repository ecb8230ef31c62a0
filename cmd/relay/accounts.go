package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/poemonsense/cloudcode-relay/internal/auth"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the account pool",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts and their state",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account via Google OAuth",
	RunE:  runAccountsAdd,
}

var importDBPath string

var accountsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the account from a local Antigravity installation",
	RunE:  runAccountsImport,
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountEnabled(args[0], true)
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountEnabled(args[0], false)
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an account from the pool",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

func init() {
	accountsImportCmd.Flags().StringVar(&importDBPath, "db", "", "path to the state database (default: auto-detect)")
	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsImportCmd,
		accountsEnableCmd, accountsDisableCmd, accountsRemoveCmd)
	rootCmd.AddCommand(accountsCmd)
}

// openStore connects to the redis store named in the config. Account
// management requires durable storage.
func openStore() (*redis.AccountStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("account management requires redis; set redis.addr in %s", configPath)
	}
	client, err := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return redis.NewAccountStore(client), nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	accounts, err := store.ListAccounts(context.Background())
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts configured.")
		return nil
	}

	now := time.Now().UnixMilli()
	for _, acc := range accounts {
		state := "ok"
		switch {
		case acc.IsInvalid:
			state = "invalid (" + acc.InvalidReason + ")"
		case !acc.Enabled:
			state = "disabled"
		default:
			for model, info := range acc.ModelRateLimits {
				if info != nil && info.IsRateLimited && info.ResetTime > now {
					state = fmt.Sprintf("rate limited on %s for %s",
						model, utils.FormatDuration(info.ResetTime-now))
					break
				}
			}
		}
		fmt.Printf("%-40s %-10s %s\n", acc.Email, acc.Source, state)
	}
	return nil
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	authURL, verifier, state, err := auth.AuthorizationURL()
	if err != nil {
		return err
	}

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Account authorized. You can close this tab.")
		codeCh <- code
	})
	callbackSrv := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", config.OAuthCallbackPort),
		Handler: mux,
	}
	go func() { _ = callbackSrv.ListenAndServe() }()
	defer callbackSrv.Close()

	fmt.Println("Open this URL in your browser to authorize an account:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for authorization")
	}

	tokens, err := auth.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return err
	}
	email, err := auth.GetUserEmail(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}

	projectID, err := auth.DiscoverProjectID(ctx, tokens.AccessToken)
	if err != nil {
		utils.Warn("Project discovery failed, using default: %v", err)
		projectID = ""
	}

	acc := &redis.Account{
		Email:        email,
		Source:       "oauth",
		Enabled:      true,
		RefreshToken: tokens.RefreshToken,
		ProjectID:    projectID,
		AddedAt:      time.Now().UnixMilli(),
	}
	if err := store.SaveAccount(ctx, acc); err != nil {
		return err
	}
	fmt.Printf("Added account %s\n", email)
	return nil
}

func runAccountsImport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	data, err := auth.ReadLocalAuth(importDBPath)
	if err != nil {
		return err
	}
	if data.Email == "" {
		return fmt.Errorf("no signed-in account found in the local installation")
	}

	acc := &redis.Account{
		Email:        data.Email,
		Source:       "database",
		Enabled:      true,
		APIKey:       data.APIKey,
		RefreshToken: data.RefreshToken,
		AddedAt:      time.Now().UnixMilli(),
	}
	if err := store.SaveAccount(context.Background(), acc); err != nil {
		return err
	}
	fmt.Printf("Imported account %s\n", data.Email)
	return nil
}

func setAccountEnabled(email string, enabled bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	acc, err := store.GetAccount(ctx, email)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("unknown account %s", email)
	}
	acc.Enabled = enabled
	if enabled {
		// Re-enabling also clears the invalid flag so a re-authenticated
		// account goes back into rotation.
		acc.IsInvalid = false
		acc.InvalidReason = ""
	}
	if err := store.SaveAccount(ctx, acc); err != nil {
		return err
	}
	fmt.Printf("Account %s %s\n", email, map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.RemoveAccount(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed account %s\n", args[0])
	return nil
}
