package multitenancy

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tenants map[string]string
		pools   map[string]string
		wantErr string
	}{
		{
			name:    "no pools",
			tenants: map[string]string{"public": "home"},
			pools:   nil,
			wantErr: "no storage pools configured",
		},
		{
			name:    "tenant references unknown pool",
			tenants: map[string]string{"public": "ghost"},
			pools:   map[string]string{"home": "postgres://home"},
			wantErr: "references unknown pool",
		},
		{
			name:    "pool without dsn",
			tenants: map[string]string{"public": "home"},
			pools:   map[string]string{"home": ""},
			wantErr: "empty dsn",
		},
		{
			name:    "empty tenant id",
			tenants: map[string]string{"": "home"},
			pools:   map[string]string{"home": "postgres://home"},
			wantErr: "empty tenant id",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.tenants, tc.pools)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("NewRegistry error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestRegistry_Resolution(t *testing.T) {
	registry, err := NewRegistry(
		map[string]string{
			"public":   "home",
			"tenant-b": "remote",
			"tenant-a": "remote",
		},
		map[string]string{
			"home":   "postgres://home",
			"remote": "postgres://remote",
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	poolID, err := registry.PoolID("tenant-a")
	if err != nil {
		t.Fatalf("PoolID returned error: %v", err)
	}
	if poolID != "remote" {
		t.Errorf("PoolID(tenant-a) = %q", poolID)
	}

	if _, err := registry.PoolID("ghost"); err == nil {
		t.Error("PoolID for an unmapped tenant must fail")
	}

	dsn, err := registry.PoolDSN("home")
	if err != nil {
		t.Fatalf("PoolDSN returned error: %v", err)
	}
	if dsn != "postgres://home" {
		t.Errorf("PoolDSN(home) = %q", dsn)
	}

	if _, err := registry.PoolDSN("ghost"); err == nil {
		t.Error("PoolDSN for an unknown pool must fail")
	}

	want := []string{"public", "tenant-a", "tenant-b"}
	if got := registry.Tenants(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tenants() = %v, want %v", got, want)
	}
}
