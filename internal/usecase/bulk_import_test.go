package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/repository"
)

func ptr(s string) *string { return &s }

func stagedPasswordUser(id, email string) domain.StagedUser {
	return domain.StagedUser{
		ID: id,
		LoginMethods: []domain.LoginMethod{{
			RecipeKind:   domain.RecipeEmailPassword,
			TenantIDs:    []string{"public"},
			Email:        ptr(email),
			PasswordHash: ptr("argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"),
			TimeJoined:   1,
		}},
	}
}

// memStaging records every mutation the batch worker performs on the staging
// store.
type memStaging struct {
	mu          sync.Mutex
	fetch       []domain.StagedUser
	deleted     [][]string
	deletedInTx []string
	failed      map[string]string
	reset       [][]string
	deleteErrs  []error
}

func newMemStaging() *memStaging {
	return &memStaging{failed: make(map[string]string)}
}

func (m *memStaging) Add(ctx context.Context, appID string, users []domain.StagedUser) ([]string, error) {
	return nil, nil
}

func (m *memStaging) List(ctx context.Context, appID string, filter port.StagedUserFilter) ([]domain.StagedUser, error) {
	return nil, nil
}

func (m *memStaging) GetByID(ctx context.Context, appID, id string) (*domain.StagedUser, error) {
	return nil, repository.ErrNotFound
}

func (m *memStaging) FetchForProcessing(ctx context.Context, appID string, limit int) ([]domain.StagedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.fetch
	m.fetch = nil
	return users, nil
}

func (m *memStaging) Delete(ctx context.Context, appID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deleteErrs) > 0 {
		err := m.deleteErrs[0]
		m.deleteErrs = m.deleteErrs[1:]
		if err != nil {
			return err
		}
	}
	m.deleted = append(m.deleted, ids)
	return nil
}

func (m *memStaging) DeleteInTx(ctx context.Context, tx port.Tx, appID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedInTx = append(m.deletedInTx, id)
	return nil
}

func (m *memStaging) UpdateStatus(ctx context.Context, appID string, idToError map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, message := range idToError {
		m.failed[id] = message
	}
	return nil
}

func (m *memStaging) ResetToNew(ctx context.Context, appID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset = append(m.reset, ids)
	return nil
}

type fakeTx struct {
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeHandle struct {
	id         string
	beginErr   error
	commitErrs []error
	txs        []*fakeTx
}

func (h *fakeHandle) PoolID() string { return h.id }

func (h *fakeHandle) Begin(ctx context.Context) (port.Tx, error) {
	if h.beginErr != nil {
		return nil, h.beginErr
	}
	var commitErr error
	if len(h.commitErrs) > 0 {
		commitErr = h.commitErrs[0]
		h.commitErrs = h.commitErrs[1:]
	}
	tx := &fakeTx{commitErr: commitErr}
	h.txs = append(h.txs, tx)
	return tx, nil
}

func (h *fakeHandle) Close() {}

type fakePools struct {
	handle *fakeHandle
	getErr error
	gets   int
	closed bool
}

func (p *fakePools) Get(ctx context.Context, tenantID string) (port.StorageHandle, error) {
	p.gets++
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.handle, nil
}

func (p *fakePools) CloseAll() { p.closed = true }

type mapRegistry struct {
	tenants map[string]string
}

func (r mapRegistry) PoolID(tenantID string) (string, error) {
	poolID, ok := r.tenants[tenantID]
	if !ok {
		return "", fmt.Errorf("tenant %q is not configured", tenantID)
	}
	return poolID, nil
}

func (r mapRegistry) PoolDSN(poolID string) (string, error) {
	return "postgres://stub", nil
}

func (r mapRegistry) Tenants() []string {
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids
}

// fakeIdentity records the identity primitives invoked by the pipeline.
type fakeIdentity struct {
	mu           sync.Mutex
	nextID       int
	failPassword map[string]error
	created      []string
	associations []string
	primaries    []string
	links        []string
	externalIDs  map[string]string
	verified     []string
	totpOwners   []string
	metadata     map[string]string
	knownRoles   map[string]struct{}
	roleGrants   []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		failPassword: make(map[string]error),
		externalIDs:  make(map[string]string),
		metadata:     make(map[string]string),
		knownRoles:   map[string]struct{}{"admin": {}},
	}
}

func (f *fakeIdentity) newUserID() string {
	f.nextID++
	return fmt.Sprintf("user-%d", f.nextID)
}

func (f *fakeIdentity) CreatePasswordUser(ctx context.Context, tx port.Tx, tenantID, email, passwordHash string, timeJoined int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPassword[email]; err != nil {
		return "", err
	}
	f.created = append(f.created, "password:"+email)
	return f.newUserID(), nil
}

func (f *fakeIdentity) CreateThirdPartyUser(ctx context.Context, tx port.Tx, tenantID, thirdPartyID, thirdPartyUserID, email string, timeJoined int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, "thirdparty:"+email)
	return f.newUserID(), nil
}

func (f *fakeIdentity) CreatePasswordlessUser(ctx context.Context, tx port.Tx, tenantID string, email, phoneNumber *string, timeJoined int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, "passwordless")
	return f.newUserID(), nil
}

func (f *fakeIdentity) AssociateUserWithTenant(ctx context.Context, tx port.Tx, tenantID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associations = append(f.associations, tenantID+":"+userID)
	return nil
}

func (f *fakeIdentity) CreatePrimaryUser(ctx context.Context, tx port.Tx, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primaries = append(f.primaries, userID)
	return nil
}

func (f *fakeIdentity) LinkAccounts(ctx context.Context, tx port.Tx, recipeUserID, primaryUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, recipeUserID+"->"+primaryUserID)
	return nil
}

func (f *fakeIdentity) CreateExternalIDMapping(ctx context.Context, tx port.Tx, userID, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalIDs[userID] = externalID
	return nil
}

func (f *fakeIdentity) MarkEmailVerified(ctx context.Context, tx port.Tx, userID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, userID+":"+email)
	return nil
}

func (f *fakeIdentity) CreateTotpDevice(ctx context.Context, tx port.Tx, userID string, device domain.TotpDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totpOwners = append(f.totpOwners, userID)
	return nil
}

func (f *fakeIdentity) SetUserMetadata(ctx context.Context, tx port.Tx, userID string, metadata json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[userID] = string(metadata)
	return nil
}

func (f *fakeIdentity) RoleExists(ctx context.Context, tx port.Tx, appID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.knownRoles[role]
	return ok, nil
}

func (f *fakeIdentity) AddRoleToUser(ctx context.Context, tx port.Tx, appID, tenantID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleGrants = append(f.roleGrants, appID+":"+tenantID+":"+userID+":"+role)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	batches  []domain.BatchImportedEvent
	failures []domain.RecordFailedEvent
	degraded []domain.StorageDegradedEvent
}

func (r *recordingEvents) PublishBatchImported(ctx context.Context, event domain.BatchImportedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, event)
	return nil
}

func (r *recordingEvents) PublishRecordFailed(ctx context.Context, event domain.RecordFailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, event)
	return nil
}

func (r *recordingEvents) PublishStorageDegraded(ctx context.Context, event domain.StorageDegradedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, event)
	return nil
}

type staticHasher struct {
	calls int
}

func (h *staticHasher) Hash(password string) (string, error) {
	h.calls++
	return "argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA", nil
}

type fixture struct {
	staging  *memStaging
	identity *fakeIdentity
	pools    *fakePools
	events   *recordingEvents
	hasher   *staticHasher
	service  *BulkImportService
}

func newFixture(registry port.TenantRegistry) *fixture {
	f := &fixture{
		staging:  newMemStaging(),
		identity: newFakeIdentity(),
		pools:    &fakePools{handle: &fakeHandle{id: "home"}},
		events:   &recordingEvents{},
		hasher:   &staticHasher{},
	}
	if registry == nil {
		registry = mapRegistry{tenants: map[string]string{"public": "home"}}
	}
	f.service = NewBulkImportService(
		f.staging,
		f.identity,
		registry,
		func() port.StoragePools { return f.pools },
		f.hasher,
		f.events,
		zap.NewNop(),
	)
	return f
}

func TestProcessBatch_ValidationFailureShortCircuits(t *testing.T) {
	f := newFixture(nil)

	users := []domain.StagedUser{
		stagedPasswordUser("rec-valid", "a@example.com"),
		{ID: "rec-invalid"}, // no login methods
	}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if f.pools.gets != 0 {
		t.Errorf("expected no storage access, got %d pool acquisitions", f.pools.gets)
	}
	if len(f.staging.deleted) != 0 {
		t.Errorf("expected no staged rows deleted, got %v", f.staging.deleted)
	}

	if msg := f.staging.failed["rec-invalid"]; !strings.Contains(msg, "staged user is invalid") {
		t.Errorf("invalid record message = %q", msg)
	}
	if msg := f.staging.failed["rec-valid"]; msg != "batch rejected: another record in the batch failed validation" {
		t.Errorf("valid record message = %q", msg)
	}
}

func TestProcessBatch_SuccessfulGroupCommitsAndCleansUp(t *testing.T) {
	f := newFixture(nil)

	plaintext := stagedPasswordUser("rec-2", "b@example.com")
	plaintext.LoginMethods[0].PasswordHash = nil
	plaintext.LoginMethods[0].PlaintextPassword = ptr("correct horse battery staple")

	users := []domain.StagedUser{
		stagedPasswordUser("rec-1", "a@example.com"),
		plaintext,
	}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.identity.created) != 2 {
		t.Fatalf("expected 2 credentials created, got %v", f.identity.created)
	}
	if f.hasher.calls != 1 {
		t.Errorf("expected plaintext password hashed once, got %d calls", f.hasher.calls)
	}

	if len(f.pools.handle.txs) != 1 {
		t.Fatalf("expected one transaction for the pool group, got %d", len(f.pools.handle.txs))
	}
	if !f.pools.handle.txs[0].committed {
		t.Error("group transaction was not committed")
	}
	if !f.pools.closed {
		t.Error("pool set was not closed after the batch")
	}

	if len(f.staging.deleted) != 1 || len(f.staging.deleted[0]) != 2 {
		t.Fatalf("expected one delete of both staged rows, got %v", f.staging.deleted)
	}
	if len(f.staging.failed) != 0 {
		t.Errorf("expected no failures, got %v", f.staging.failed)
	}

	if len(f.events.batches) != 1 {
		t.Fatalf("expected one batch imported event, got %d", len(f.events.batches))
	}
	if f.events.batches[0].ImportedCount != 2 {
		t.Errorf("imported count = %d", f.events.batches[0].ImportedCount)
	}
}

func TestProcessBatch_RecordFailureAbortsWholeGroup(t *testing.T) {
	f := newFixture(nil)
	f.identity.failPassword["b@example.com"] = domain.ErrEmailAlreadyExists

	users := []domain.StagedUser{
		stagedPasswordUser("rec-a", "a@example.com"),
		stagedPasswordUser("rec-b", "b@example.com"),
	}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.pools.handle.txs) != 1 {
		t.Fatalf("expected one transaction attempt, got %d", len(f.pools.handle.txs))
	}
	if !f.pools.handle.txs[0].rolledBack {
		t.Error("failed group transaction was not rolled back")
	}
	if len(f.staging.deleted) != 0 {
		t.Errorf("no staged rows should be deleted for a failed group, got %v", f.staging.deleted)
	}

	if msg := f.staging.failed["rec-b"]; msg != domain.ErrEmailAlreadyExists.Error() {
		t.Errorf("offending record message = %q", msg)
	}
	if msg := f.staging.failed["rec-a"]; msg != "import aborted: record rec-b in the same storage pool failed" {
		t.Errorf("innocent record message = %q", msg)
	}

	if len(f.events.failures) != 2 {
		t.Errorf("expected 2 record failed events, got %d", len(f.events.failures))
	}
}

func TestProcessBatch_TxConflictRetriesGroup(t *testing.T) {
	f := newFixture(nil)
	f.pools.handle.commitErrs = []error{
		fmt.Errorf("commit pool home: %w", repository.ErrTxConflict),
		nil,
	}

	users := []domain.StagedUser{stagedPasswordUser("rec-1", "a@example.com")}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.pools.handle.txs) != 2 {
		t.Fatalf("expected conflict to trigger a second attempt, got %d transactions", len(f.pools.handle.txs))
	}
	if len(f.staging.deleted) != 1 {
		t.Fatalf("expected staged row deleted after the retry succeeded, got %v", f.staging.deleted)
	}
	if len(f.staging.failed) != 0 {
		t.Errorf("conflict retries must not mark records FAILED, got %v", f.staging.failed)
	}
}

func TestProcessBatch_StorageUnavailableDefersGroup(t *testing.T) {
	f := newFixture(nil)
	f.pools.getErr = fmt.Errorf("connect: %w", repository.ErrStorageUnavailable)

	users := []domain.StagedUser{
		stagedPasswordUser("rec-1", "a@example.com"),
		stagedPasswordUser("rec-2", "b@example.com"),
	}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.staging.reset) != 1 || len(f.staging.reset[0]) != 2 {
		t.Fatalf("expected both records reset to NEW, got %v", f.staging.reset)
	}
	if len(f.staging.failed) != 0 {
		t.Errorf("transient failures must not mark records FAILED, got %v", f.staging.failed)
	}
	if len(f.events.degraded) != 1 {
		t.Fatalf("expected one storage degraded event, got %d", len(f.events.degraded))
	}
	if got := len(f.events.degraded[0].RecordIDs); got != 2 {
		t.Errorf("degraded event record count = %d", got)
	}
}

func TestProcessBatch_CancellationDefersGroup(t *testing.T) {
	f := newFixture(nil)
	f.pools.handle.commitErrs = []error{
		fmt.Errorf("commit pool home: %w", context.Canceled),
	}

	users := []domain.StagedUser{stagedPasswordUser("rec-1", "a@example.com")}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.staging.failed) != 0 {
		t.Errorf("cancellation must not mark records FAILED, got %v", f.staging.failed)
	}
	if len(f.staging.reset) != 1 || f.staging.reset[0][0] != "rec-1" {
		t.Fatalf("expected the record reset to NEW for the next cycle, got %v", f.staging.reset)
	}
	if len(f.staging.deleted) != 0 {
		t.Errorf("no staged rows should be deleted for an interrupted group, got %v", f.staging.deleted)
	}
}

func TestProcessBatch_UnroutableTenantFailsRecord(t *testing.T) {
	f := newFixture(mapRegistry{tenants: map[string]string{"public": "home"}})

	orphan := stagedPasswordUser("rec-orphan", "a@example.com")
	orphan.LoginMethods[0].TenantIDs = []string{"ghost-tenant"}

	users := []domain.StagedUser{
		orphan,
		stagedPasswordUser("rec-ok", "b@example.com"),
	}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if msg := f.staging.failed["rec-orphan"]; !strings.Contains(msg, `cannot resolve storage for tenant "ghost-tenant"`) {
		t.Errorf("unroutable record message = %q", msg)
	}
	if _, failed := f.staging.failed["rec-ok"]; failed {
		t.Error("routable record must not fail because of an unroutable one")
	}
	if len(f.staging.deleted) != 1 || f.staging.deleted[0][0] != "rec-ok" {
		t.Errorf("routable record should still be imported and cleaned up, got %v", f.staging.deleted)
	}
}

func TestProcessBatch_UnknownRoleFailsRecord(t *testing.T) {
	f := newFixture(nil)

	user := stagedPasswordUser("rec-1", "a@example.com")
	user.Roles = []domain.UserRole{{Role: "auditor", TenantIDs: []string{"public"}}}

	if err := f.service.ProcessBatch(context.Background(), "public", []domain.StagedUser{user}); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if msg := f.staging.failed["rec-1"]; msg != `role "auditor" does not exist` {
		t.Errorf("unknown role message = %q", msg)
	}
	if len(f.identity.roleGrants) != 0 {
		t.Errorf("no role should be granted, got %v", f.identity.roleGrants)
	}
}

func TestProcessBatch_ExternalIDRemapsPostMappingSteps(t *testing.T) {
	f := newFixture(nil)

	user := stagedPasswordUser("rec-1", "a@example.com")
	user.ExternalUserID = ptr("ext-42")
	user.Roles = []domain.UserRole{{Role: "admin", TenantIDs: []string{"public"}}}
	user.TotpDevices = []domain.TotpDevice{{Name: "phone", Secret: "JBSWY3DP"}}
	user.Metadata = []byte(`{"plan":"pro"}`)

	if err := f.service.ProcessBatch(context.Background(), "public", []domain.StagedUser{user}); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if got := f.identity.externalIDs["user-1"]; got != "ext-42" {
		t.Fatalf("external id mapping = %v", f.identity.externalIDs)
	}
	if len(f.identity.verified) != 1 || f.identity.verified[0] != "ext-42:a@example.com" {
		t.Errorf("email verification should address the external id, got %v", f.identity.verified)
	}
	if len(f.identity.totpOwners) != 1 || f.identity.totpOwners[0] != "ext-42" {
		t.Errorf("totp device should be registered under the external id, got %v", f.identity.totpOwners)
	}
	if _, ok := f.identity.metadata["ext-42"]; !ok {
		t.Errorf("metadata should be stored under the external id, got %v", f.identity.metadata)
	}
	if len(f.identity.roleGrants) != 1 || f.identity.roleGrants[0] != "public:public:ext-42:admin" {
		t.Errorf("role grant should address the external id, got %v", f.identity.roleGrants)
	}
}

func TestProcessBatch_MultiMethodUserLinksUnderPrimary(t *testing.T) {
	f := newFixture(nil)

	user := stagedPasswordUser("rec-1", "a@example.com")
	user.LoginMethods = append(user.LoginMethods, domain.LoginMethod{
		RecipeKind:       domain.RecipeThirdParty,
		TenantIDs:        []string{"public"},
		ThirdPartyID:     ptr("google"),
		ThirdPartyUserID: ptr("g-123"),
		Email:            ptr("a@example.com"),
		TimeJoined:       2,
	})

	if err := f.service.ProcessBatch(context.Background(), "public", []domain.StagedUser{user}); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	// The password method joined first, so it anchors the identity.
	if len(f.identity.primaries) != 1 || f.identity.primaries[0] != "user-1" {
		t.Fatalf("primaries = %v", f.identity.primaries)
	}
	if len(f.identity.links) != 1 || f.identity.links[0] != "user-2->user-1" {
		t.Errorf("links = %v", f.identity.links)
	}
}

func TestProcessBatch_DeleteRetriesUntilSuccess(t *testing.T) {
	f := newFixture(nil)
	f.staging.deleteErrs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		nil,
	}

	users := []domain.StagedUser{stagedPasswordUser("rec-1", "a@example.com")}

	if err := f.service.ProcessBatch(context.Background(), "public", users); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if len(f.staging.deleted) != 1 {
		t.Fatalf("expected delete to eventually succeed, got %v", f.staging.deleted)
	}
}

func TestRunOnce_EmptyStagingTable(t *testing.T) {
	f := newFixture(nil)

	processed, err := f.service.RunOnce(context.Background(), "public", 100)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0", processed)
	}
	if f.pools.gets != 0 {
		t.Error("empty fetch must not touch storage pools")
	}
}

func TestRunOnce_ReportsFetchedCount(t *testing.T) {
	f := newFixture(nil)
	f.staging.fetch = []domain.StagedUser{
		stagedPasswordUser("rec-1", "a@example.com"),
		stagedPasswordUser("rec-2", "b@example.com"),
	}

	processed, err := f.service.RunOnce(context.Background(), "public", 100)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
}

func TestImportSingle_DeletesStagedRowInSameTransaction(t *testing.T) {
	f := newFixture(nil)

	user := stagedPasswordUser("rec-1", "a@example.com")
	if err := f.service.ImportSingle(context.Background(), "public", user); err != nil {
		t.Fatalf("ImportSingle returned error: %v", err)
	}

	if len(f.staging.deletedInTx) != 1 || f.staging.deletedInTx[0] != "rec-1" {
		t.Fatalf("deletedInTx = %v", f.staging.deletedInTx)
	}
	if len(f.pools.handle.txs) != 1 || !f.pools.handle.txs[0].committed {
		t.Error("import transaction was not committed")
	}
}

func TestImportSingle_ValidationError(t *testing.T) {
	f := newFixture(nil)

	err := f.service.ImportSingle(context.Background(), "public", domain.StagedUser{ID: "rec-1"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *domain.ValidationError, got %T", err)
	}
	if f.pools.gets != 0 {
		t.Error("invalid record must not touch storage pools")
	}
}

func TestImportSingle_ConflictSurfacesToCaller(t *testing.T) {
	f := newFixture(nil)
	f.identity.failPassword["a@example.com"] = domain.ErrEmailAlreadyExists

	err := f.service.ImportSingle(context.Background(), "public", stagedPasswordUser("rec-1", "a@example.com"))
	if !errors.Is(err, domain.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	if len(f.pools.handle.txs) != 1 || !f.pools.handle.txs[0].rolledBack {
		t.Error("failed import transaction was not rolled back")
	}
}
