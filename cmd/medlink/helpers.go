package main

import (
	"fmt"
	"os"

	medlink "github.com/medlink-network/medlink-go"
)

// session holds the resolved credentials for a CLI invocation. Environment
// variables take precedence over the config file so CI and .env setups work
// without touching ~/.medlink.
type session struct {
	Token   string
	UserID  string
	BaseURL string
}

func resolveSession() session {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	s := session{
		Token:   cfg.Auth.Token,
		UserID:  cfg.Auth.UserID,
		BaseURL: cfg.Default.BaseURL,
	}
	if v := os.Getenv("MEDLINK_TOKEN"); v != "" {
		s.Token = v
	}
	if v := os.Getenv("MEDLINK_USER_ID"); v != "" {
		s.UserID = v
	}
	if v := os.Getenv("MEDLINK_BASE_URL"); v != "" {
		s.BaseURL = v
	}

	if s.Token == "" || s.UserID == "" {
		fmt.Fprintln(os.Stderr, "No credentials. Run 'medlink init <token> <user-id>' first.")
		os.Exit(1)
	}
	return s
}

// getClient creates a MedLink client authenticated with the session token.
func getClient() (*medlink.Client, session) {
	s := resolveSession()

	var opts []medlink.ClientOption
	if s.BaseURL != "" {
		opts = append(opts, medlink.WithBaseURL(s.BaseURL))
	}

	return medlink.NewClient(s.Token, opts...), s
}
