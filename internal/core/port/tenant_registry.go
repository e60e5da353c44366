package port

// TenantRegistry resolves multitenancy configuration: which physical storage
// pool a tenant belongs to, and how to reach that pool.
type TenantRegistry interface {
	// PoolID resolves a tenant id to its storage pool id.
	PoolID(tenantID string) (string, error)
	// PoolDSN returns the connection string for a storage pool.
	PoolDSN(poolID string) (string, error)
	// Tenants lists every configured tenant id.
	Tenants() []string
}
