package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
}

func TestGraphConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GraphConfig
		wantErr bool
	}{
		{"empty engine defaults to sqlite", GraphConfig{SQLite: SQLiteConfig{Path: "x.db"}}, false},
		{"sqlite without path", GraphConfig{Engine: EngineSQLite}, true},
		{"neo4j", GraphConfig{Engine: EngineNeo4j, Neo4j: Neo4jConfig{URI: "bolt://db:7687", Username: "neo4j"}}, false},
		{"neo4j without uri", GraphConfig{Engine: EngineNeo4j, Neo4j: Neo4jConfig{Username: "neo4j"}}, true},
		{"unknown engine", GraphConfig{Engine: "postgres", SQLite: SQLiteConfig{Path: "x.db"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchAndCatalogConfig(t *testing.T) {
	if err := (&FetchConfig{Retries: -1}).Validate(); err == nil {
		t.Error("negative retries should fail")
	}
	if err := (&FetchConfig{RatePerSecond: -2}).Validate(); err == nil {
		t.Error("negative rate should fail")
	}
	if err := (&CatalogConfig{Workers: 65}).Validate(); err == nil {
		t.Error("too many workers should fail")
	}
	if err := (&CatalogConfig{}).Validate(); err != nil {
		t.Errorf("zero workers means default: %v", err)
	}
}

func TestInboxConfig_PathRequiredWhenEnabled(t *testing.T) {
	if err := (&InboxConfig{Enabled: true}).Validate(); err == nil {
		t.Error("enabled inbox without path should fail")
	}
	if err := (&InboxConfig{}).Validate(); err != nil {
		t.Errorf("disabled inbox: %v", err)
	}
}
