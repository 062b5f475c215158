package impersonation

import (
	"testing"

	"starkdevnet/core/felt"
)

func TestExplicitAddressIsImpersonated(t *testing.T) {
	s := New()
	addr := felt.FromUint64(1)
	if s.IsImpersonated(addr) {
		t.Fatalf("expected not impersonated before Impersonate")
	}
	s.Impersonate(addr)
	if !s.IsImpersonated(addr) {
		t.Fatalf("expected impersonated after Impersonate")
	}
	s.StopImpersonate(addr)
	if s.IsImpersonated(addr) {
		t.Fatalf("expected not impersonated after StopImpersonate")
	}
}

func TestAutoImpersonatesEveryAddress(t *testing.T) {
	s := New()
	other := felt.FromUint64(99)
	if s.IsImpersonated(other) {
		t.Fatalf("expected not impersonated before auto")
	}
	s.SetAuto(true)
	if !s.IsImpersonated(other) {
		t.Fatalf("expected every address impersonated under auto")
	}
	s.SetAuto(false)
	if s.IsImpersonated(other) {
		t.Fatalf("expected auto-off to stop impersonating untracked addresses")
	}
}
