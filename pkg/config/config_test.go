package config

import "testing"

func TestValidateRejectsFeeAboveCap(t *testing.T) {
	cfg := New()
	cfg.Chain.ProofworkFeeBps = 600
	cfg.Chain.MaxProofworkFeeBps = 500
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when proofwork_fee_bps exceeds max_proofwork_fee_bps")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestApplyCommaSeparatedOverrides(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("BLOCKED_UPLOAD_CONTENT_TYPES", "application/x-msdownload,application/x-sh")

	cfg := New()
	applyCommaSeparatedOverrides(cfg)

	if len(cfg.Marketplace.CORSAllowOrigins) != 2 {
		t.Fatalf("expected 2 allowed origins, got %#v", cfg.Marketplace.CORSAllowOrigins)
	}
	if cfg.Marketplace.CORSAllowOrigins[0] != "https://a.example" {
		t.Fatalf("unexpected first origin: %q", cfg.Marketplace.CORSAllowOrigins[0])
	}
	if len(cfg.Marketplace.BlockedUploadContentType) != 2 {
		t.Fatalf("expected 2 blocked content types, got %#v", cfg.Marketplace.BlockedUploadContentType)
	}
}
