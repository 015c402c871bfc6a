package main

import (
	"testing"

	"kasirledger/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short", TenantID: "main-store"}); err == nil {
		t.Fatalf("expected a short secret to be rejected")
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}); err == nil {
		t.Fatalf("expected a missing tenant to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", TenantID: "main-store"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate", "sync"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (%v)", name, cmd, err)
		}
	}
	if root.PersistentFlags().Lookup("memory") == nil {
		t.Fatalf("expected --memory flag")
	}
}
