package multitenancy

import (
	"fmt"
	"sort"

	"github.com/arklim/social-platform-identity/internal/core/port"
)

// Registry is a static tenant-to-storage-pool map built from configuration.
// Tenant routing changes require a restart, which keeps a processing cycle's
// view of the topology stable.
type Registry struct {
	tenants map[string]string
	pools   map[string]string
}

// NewRegistry validates that every tenant maps to a declared pool and that
// every pool carries a DSN.
func NewRegistry(tenants map[string]string, pools map[string]string) (*Registry, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("no storage pools configured")
	}
	for tenantID, poolID := range tenants {
		if tenantID == "" {
			return nil, fmt.Errorf("empty tenant id in tenant map")
		}
		dsn, ok := pools[poolID]
		if !ok {
			return nil, fmt.Errorf("tenant %s references unknown pool %s", tenantID, poolID)
		}
		if dsn == "" {
			return nil, fmt.Errorf("pool %s has an empty dsn", poolID)
		}
	}

	r := &Registry{
		tenants: make(map[string]string, len(tenants)),
		pools:   make(map[string]string, len(pools)),
	}
	for tenantID, poolID := range tenants {
		r.tenants[tenantID] = poolID
	}
	for poolID, dsn := range pools {
		r.pools[poolID] = dsn
	}
	return r, nil
}

// PoolID resolves the storage pool serving a tenant.
func (r *Registry) PoolID(tenantID string) (string, error) {
	poolID, ok := r.tenants[tenantID]
	if !ok {
		return "", fmt.Errorf("tenant %s is not mapped to a storage pool", tenantID)
	}
	return poolID, nil
}

// PoolDSN returns the connection string for a pool.
func (r *Registry) PoolDSN(poolID string) (string, error) {
	dsn, ok := r.pools[poolID]
	if !ok {
		return "", fmt.Errorf("unknown storage pool %s", poolID)
	}
	return dsn, nil
}

// Tenants lists every registered tenant id in stable order.
func (r *Registry) Tenants() []string {
	ids := make([]string, 0, len(r.tenants))
	for tenantID := range r.tenants {
		ids = append(ids, tenantID)
	}
	sort.Strings(ids)
	return ids
}

var _ port.TenantRegistry = (*Registry)(nil)
