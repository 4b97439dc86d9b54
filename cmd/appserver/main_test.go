package main

import (
	"os"
	"testing"

	"github.com/R3E-Network/proofwork/pkg/config"
)

func TestResolveDSNPrecedence(t *testing.T) {
	cases := []struct {
		name string
		flag string
		env  string
		cfg  func() *config.Config
		want string
	}{
		{
			name: "flag wins",
			flag: "postgres://flag",
			env:  "postgres://env",
			cfg: func() *config.Config {
				cfg := config.New()
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://flag",
		},
		{
			name: "env when flag missing",
			flag: "",
			env:  "postgres://env",
			cfg: func() *config.Config {
				cfg := config.New()
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://env",
		},
		{
			name: "config dsn when flag/env empty",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				cfg := config.New()
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://cfg",
		},
		{
			name: "host/name fallback",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				cfg := config.New()
				cfg.Database.DSN = ""
				cfg.Database.Host = "localhost"
				cfg.Database.Port = 5432
				cfg.Database.User = "postgres"
				cfg.Database.Password = "postgres"
				cfg.Database.Name = "proofwork"
				cfg.Database.SSLMode = "disable"
				return cfg
			},
			want: "host=localhost port=5432 user=postgres password=postgres dbname=proofwork sslmode=disable",
		},
		{
			name: "empty when nothing provided",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				return config.New()
			},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.New()
			if tc.cfg != nil {
				cfg = tc.cfg()
			}

			if tc.env != "" {
				if err := os.Setenv("DATABASE_URL", tc.env); err != nil {
					t.Fatalf("setenv: %v", err)
				}
				t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })
			} else {
				os.Unsetenv("DATABASE_URL")
			}

			got := resolveDSN(tc.flag, cfg)
			if got != tc.want {
				t.Fatalf("resolveDSN() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetermineAddr(t *testing.T) {
	cases := []struct {
		name string
		flag string
		cfg  *config.Config
		want string
	}{
		{
			name: "flag wins",
			flag: ":9999",
			cfg:  &config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 8080}},
			want: ":9999",
		},
		{
			name: "config host and port",
			flag: "",
			cfg:  &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 9090}},
			want: "127.0.0.1:9090",
		},
		{
			name: "default when nothing set",
			flag: "",
			cfg:  &config.Config{},
			want: ":8080",
		},
		{
			name: "nil config falls back to default",
			flag: "",
			cfg:  nil,
			want: ":8080",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := determineAddr(tc.flag, tc.cfg)
			if got != tc.want {
				t.Fatalf("determineAddr() = %q, want %q", got, tc.want)
			}
		})
	}
}
