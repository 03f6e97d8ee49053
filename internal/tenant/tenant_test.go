// ABOUTME: Tests for tenant ID normalization
// ABOUTME: Covers character filtering, case folding, and the default fallback

package tenant

import (
	"context"
	"testing"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "default"},
		{"   ", "default"},
		{"!!!", "default"},
		{"Acme", "acme"},
		{"acme-corp_01", "acme-corp_01"},
		{"Acme Corp!", "acmecorp"},
		{"tenant.with.dots", "tenantwithdots"},
		{"ÄBC", "bc"},
		{"../../etc", "etc"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeID(tt.in); got != tt.want {
				t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeID_Idempotent(t *testing.T) {
	for _, in := range []string{"Acme Corp", "", "x-Y_z", "日本"} {
		once := NormalizeID(in)
		if twice := NormalizeID(once); twice != once {
			t.Errorf("NormalizeID not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if got := FromContext(ctx); got != "" {
		t.Errorf("FromContext on empty ctx = %q, want empty", got)
	}

	ctx = WithTenant(ctx, "Acme")
	if got := FromContext(ctx); got != "acme" {
		t.Errorf("FromContext = %q, want %q", got, "acme")
	}
}
