package store

import (
	"context"
	"testing"
)

func TestMemorySecretStoreRoundTrip(t *testing.T) {
	s := NewMemorySecretStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "gateway-token"); err != nil || ok {
		t.Fatalf("expected absent secret, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "gateway-token", "sk-abc123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := s.Get(ctx, "gateway-token")
	if err != nil || !ok || value != "sk-abc123" {
		t.Fatalf("Get() = %q, %v, %v; want sk-abc123, true, nil", value, ok, err)
	}

	has, err := s.Has(ctx, "gateway-token")
	if err != nil || !has {
		t.Fatalf("Has() = %v, %v; want true, nil", has, err)
	}

	if err := s.Delete(ctx, "gateway-token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if has, _ := s.Has(ctx, "gateway-token"); has {
		t.Fatal("expected secret to be gone after Delete")
	}
}

func TestMemorySecretStoreDeleteMissingIsNoop(t *testing.T) {
	s := NewMemorySecretStore()
	if err := s.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("Delete() of missing key should be a no-op, got %v", err)
	}
}
