package ledger_test

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/access"
	"github.com/rivaldimahardhika/ProjectMagang/internal/crypto"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ledger"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

// stubQuerier implements store.Querier for ledger tests. Only the methods a
// given test wires up matter; the rest return zero values.
type stubQuerier struct {
	getWarehouseFn           func(ctx context.Context, id uuid.UUID) (store.Warehouse, error)
	getWarehouseForCameraFn  func(ctx context.Context, cameraID uuid.UUID) (store.Warehouse, error)
	claimWarehouseDEKFn      func(ctx context.Context, arg store.ClaimWarehouseDEKParams) (bool, error)
	getOrCreateObjectClassFn func(ctx context.Context, name string) (store.ObjectClass, error)
	insertDetectionFn        func(ctx context.Context, arg store.InsertDetectionParams) (store.Detection, error)
	getDetectionFn           func(ctx context.Context, id uuid.UUID) (store.Detection, error)
}

func (s *stubQuerier) CreateWarehouse(ctx context.Context, arg store.CreateWarehouseParams) (store.Warehouse, error) {
	return store.Warehouse{}, nil
}
func (s *stubQuerier) GetWarehouse(ctx context.Context, id uuid.UUID) (store.Warehouse, error) {
	if s.getWarehouseFn != nil {
		return s.getWarehouseFn(ctx, id)
	}
	return store.Warehouse{}, pgx.ErrNoRows
}
func (s *stubQuerier) GetWarehouseForCamera(ctx context.Context, cameraID uuid.UUID) (store.Warehouse, error) {
	if s.getWarehouseForCameraFn != nil {
		return s.getWarehouseForCameraFn(ctx, cameraID)
	}
	return store.Warehouse{}, pgx.ErrNoRows
}
func (s *stubQuerier) ClaimWarehouseDEK(ctx context.Context, arg store.ClaimWarehouseDEKParams) (bool, error) {
	if s.claimWarehouseDEKFn != nil {
		return s.claimWarehouseDEKFn(ctx, arg)
	}
	return false, nil
}
func (s *stubQuerier) CreateCamera(ctx context.Context, arg store.CreateCameraParams) (store.Camera, error) {
	return store.Camera{}, nil
}
func (s *stubQuerier) GetCamera(ctx context.Context, id uuid.UUID) (store.Camera, error) {
	return store.Camera{}, pgx.ErrNoRows
}
func (s *stubQuerier) GetCameraByName(ctx context.Context, arg store.GetCameraByNameParams) (store.Camera, error) {
	return store.Camera{}, pgx.ErrNoRows
}
func (s *stubQuerier) GetOrCreateObjectClass(ctx context.Context, name string) (store.ObjectClass, error) {
	if s.getOrCreateObjectClassFn != nil {
		return s.getOrCreateObjectClassFn(ctx, name)
	}
	return store.ObjectClass{ID: uuid.New(), Name: name}, nil
}
func (s *stubQuerier) InsertDetection(ctx context.Context, arg store.InsertDetectionParams) (store.Detection, error) {
	if s.insertDetectionFn != nil {
		return s.insertDetectionFn(ctx, arg)
	}
	return detectionFromParams(arg), nil
}
func (s *stubQuerier) GetDetection(ctx context.Context, id uuid.UUID) (store.Detection, error) {
	if s.getDetectionFn != nil {
		return s.getDetectionFn(ctx, id)
	}
	return store.Detection{}, pgx.ErrNoRows
}
func (s *stubQuerier) ListDetections(ctx context.Context, arg store.ListDetectionsParams) ([]store.DetectionSummary, error) {
	return nil, nil
}
func (s *stubQuerier) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (s *stubQuerier) CameraStatsAll(ctx context.Context) ([]store.CameraStats, error) {
	return nil, nil
}
func (s *stubQuerier) ClassStatsAll(ctx context.Context) ([]store.ClassStats, error) {
	return nil, nil
}
func (s *stubQuerier) CreatePrincipal(ctx context.Context, arg store.CreatePrincipalParams) (store.Principal, error) {
	return store.Principal{}, nil
}
func (s *stubQuerier) GetPrincipalByAPIKeyHash(ctx context.Context, apiKeyHash string) (store.Principal, error) {
	return store.Principal{}, pgx.ErrNoRows
}

// Compile-time interface check.
var _ store.Querier = (*stubQuerier)(nil)

func detectionFromParams(arg store.InsertDetectionParams) store.Detection {
	return store.Detection{
		ID:         uuid.New(),
		OccurredAt: arg.OccurredAt,
		CameraID:   arg.CameraID,
		ClassID:    arg.ClassID,
		TotalCount: arg.TotalCount,
		Ciphertext: arg.Ciphertext,
		Nonce:      arg.Nonce,
		Tag:        arg.Tag,
	}
}

func newEnvelope(t *testing.T) *crypto.Envelope {
	t.Helper()
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	env, err := crypto.NewEnvelope(crypto.SchemeMasterKey, masterKey, nil)
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	return env
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// wrapFreshDEK generates a DEK and returns it with its wrapped form.
func wrapFreshDEK(t *testing.T, env *crypto.Envelope) (dek, wrapped []byte, version int32) {
	t.Helper()
	dek, err := crypto.GenerateDEK()
	if err != nil {
		t.Fatalf("generating dek: %v", err)
	}
	wrapped, v, err := env.WrapDEK(dek)
	if err != nil {
		t.Fatalf("wrapping dek: %v", err)
	}
	return dek, wrapped, int32(v)
}

func decryptPayload(t *testing.T, det store.Detection, dek []byte) ledger.Payload {
	t.Helper()
	plaintext, err := crypto.DecryptPayload(det.Ciphertext, det.Nonce, det.Tag, dek)
	if err != nil {
		t.Fatalf("decrypting payload: %v", err)
	}
	var p ledger.Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return p
}

func TestStore_EncryptsAndPersists(t *testing.T) {
	env := newEnvelope(t)
	dek, wrapped, version := wrapFreshDEK(t, env)

	warehouse := store.Warehouse{ID: uuid.New(), WrappedDEK: wrapped, KeyVersion: version}
	cameraID := uuid.New()

	var classResolved string
	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, id uuid.UUID) (store.Warehouse, error) {
			if id != cameraID {
				return store.Warehouse{}, pgx.ErrNoRows
			}
			return warehouse, nil
		},
		getOrCreateObjectClassFn: func(_ context.Context, name string) (store.ObjectClass, error) {
			classResolved = name
			return store.ObjectClass{ID: uuid.New(), Name: name}, nil
		},
	}

	led := ledger.New(q, env, quietLogger())
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	det, err := led.Store(context.Background(), cameraID, map[string]int{"sack": 3, "box": 1}, at)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if det.TotalCount != 4 {
		t.Errorf("expected plaintext total 4, got %d", det.TotalCount)
	}
	if det.Ciphertext == nil || det.Nonce == nil || det.Tag == nil {
		t.Fatal("expected a fully present encrypted payload")
	}
	if !det.ClassID.Valid {
		t.Error("expected dominant class to be persisted")
	}
	if classResolved != "sack" {
		t.Errorf("expected dominant class %q, got %q", "sack", classResolved)
	}

	payload := decryptPayload(t, det, dek)
	if payload.TotalKarung != 4 || payload.NamaKarung != "sack" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.Counts["sack"] != 3 || payload.Counts["box"] != 1 {
		t.Errorf("per-class breakdown lost: %+v", payload.Counts)
	}
}

func TestStore_DominantClassByCount(t *testing.T) {
	env := newEnvelope(t)
	_, wrapped, version := wrapFreshDEK(t, env)
	warehouse := store.Warehouse{ID: uuid.New(), WrappedDEK: wrapped, KeyVersion: version}

	var classResolved string
	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
		getOrCreateObjectClassFn: func(_ context.Context, name string) (store.ObjectClass, error) {
			classResolved = name
			return store.ObjectClass{ID: uuid.New(), Name: name}, nil
		},
	}
	led := ledger.New(q, env, quietLogger())

	_, err := led.Store(context.Background(), uuid.New(), map[string]int{"sack": 3, "box": 5}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if classResolved != "box" {
		t.Errorf("expected highest count to dominate, got %q", classResolved)
	}

	_, err = led.Store(context.Background(), uuid.New(), map[string]int{"b": 2, "a": 2}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if classResolved != "a" {
		t.Errorf("expected deterministic tie-break by name, got %q", classResolved)
	}
}

func TestStore_EmptyCountsUseSentinel(t *testing.T) {
	env := newEnvelope(t)
	dek, wrapped, version := wrapFreshDEK(t, env)
	warehouse := store.Warehouse{ID: uuid.New(), WrappedDEK: wrapped, KeyVersion: version}

	classCalled := false
	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
		getOrCreateObjectClassFn: func(_ context.Context, name string) (store.ObjectClass, error) {
			classCalled = true
			return store.ObjectClass{}, nil
		},
	}
	led := ledger.New(q, env, quietLogger())

	det, err := led.Store(context.Background(), uuid.New(), map[string]int{}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if classCalled {
		t.Error("sentinel dominant class must not be persisted as a class row")
	}
	if det.ClassID.Valid {
		t.Error("expected null class id")
	}
	if det.TotalCount != 0 {
		t.Errorf("expected total 0, got %d", det.TotalCount)
	}

	payload := decryptPayload(t, det, dek)
	if payload.NamaKarung != ledger.SentinelNone {
		t.Errorf("expected sentinel %q, got %q", ledger.SentinelNone, payload.NamaKarung)
	}
}

func TestStore_UnknownCamera(t *testing.T) {
	led := ledger.New(&stubQuerier{}, newEnvelope(t), quietLogger())

	_, err := led.Store(context.Background(), uuid.New(), map[string]int{"sack": 1}, time.Now())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_FirstWriteCreatesTenantKey(t *testing.T) {
	env := newEnvelope(t)
	warehouse := store.Warehouse{ID: uuid.New(), KeyVersion: 1} // no wrapped DEK yet

	var claimed store.ClaimWarehouseDEKParams
	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
		claimWarehouseDEKFn: func(_ context.Context, arg store.ClaimWarehouseDEKParams) (bool, error) {
			claimed = arg
			return true, nil
		},
	}
	led := ledger.New(q, env, quietLogger())

	det, err := led.Store(context.Background(), uuid.New(), map[string]int{"sack": 2}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if claimed.WrappedDEK == nil {
		t.Fatal("expected a wrapped DEK to be installed on first write")
	}
	if claimed.ID != warehouse.ID {
		t.Errorf("claim targeted wrong warehouse: %s", claimed.ID)
	}

	dek, err := env.UnwrapDEK(claimed.WrappedDEK, int(claimed.KeyVersion))
	if err != nil {
		t.Fatalf("unwrapping installed DEK: %v", err)
	}
	payload := decryptPayload(t, det, dek)
	if payload.TotalKarung != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestStore_ClaimRaceLoserUsesWinnerKey(t *testing.T) {
	env := newEnvelope(t)
	winnerDEK, winnerWrapped, version := wrapFreshDEK(t, env)
	warehouse := store.Warehouse{ID: uuid.New(), KeyVersion: 1} // no DEK when first read

	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
		claimWarehouseDEKFn: func(_ context.Context, _ store.ClaimWarehouseDEKParams) (bool, error) {
			return false, nil // another writer got there first
		},
		getWarehouseFn: func(_ context.Context, id uuid.UUID) (store.Warehouse, error) {
			w := warehouse
			w.WrappedDEK = winnerWrapped
			w.KeyVersion = version
			return w, nil
		},
	}
	led := ledger.New(q, env, quietLogger())

	det, err := led.Store(context.Background(), uuid.New(), map[string]int{"sack": 1}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	// The record must be readable under the winner's DEK, proving the loser
	// discarded its own freshly generated key.
	payload := decryptPayload(t, det, winnerDEK)
	if payload.TotalKarung != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestStore_TenantKeyUnavailable(t *testing.T) {
	warehouse := store.Warehouse{ID: uuid.New()}
	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
		claimWarehouseDEKFn: func(_ context.Context, _ store.ClaimWarehouseDEKParams) (bool, error) {
			return false, errors.New("database down")
		},
	}
	led := ledger.New(q, newEnvelope(t), quietLogger())

	_, err := led.Store(context.Background(), uuid.New(), map[string]int{"sack": 1}, time.Now())
	if !errors.Is(err, ledger.ErrTenantKeyUnavailable) {
		t.Fatalf("expected ErrTenantKeyUnavailable, got %v", err)
	}
}

// storedFixture persists one detection through the ledger and returns the
// stub wired so Retrieve and Decrypt see it.
func storedFixture(t *testing.T, env *crypto.Envelope, warehouseID uuid.UUID) (*stubQuerier, store.Detection) {
	t.Helper()
	_, wrapped, version := wrapFreshDEK(t, env)
	warehouse := store.Warehouse{ID: warehouseID, WrappedDEK: wrapped, KeyVersion: version}
	cameraID := uuid.New()

	q := &stubQuerier{
		getWarehouseForCameraFn: func(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
			return warehouse, nil
		},
	}
	led := ledger.New(q, env, quietLogger())
	det, err := led.Store(context.Background(), cameraID, map[string]int{"sack": 3, "box": 1}, time.Now())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	q.getDetectionFn = func(_ context.Context, id uuid.UUID) (store.Detection, error) {
		if id != det.ID {
			return store.Detection{}, pgx.ErrNoRows
		}
		return det, nil
	}
	return q, det
}

func TestDecrypt_OwnerAndAdminAllowed(t *testing.T) {
	env := newEnvelope(t)
	warehouseID := uuid.New()
	q, det := storedFixture(t, env, warehouseID)
	led := ledger.New(q, env, quietLogger())

	owner := access.Principal{ID: uuid.New(), Role: access.RoleOperator, WarehouseID: warehouseID}
	admin := access.Principal{ID: uuid.New(), Role: access.RoleAdmin}

	for _, p := range []access.Principal{owner, admin} {
		payload, err := led.Decrypt(context.Background(), p, det.ID)
		if err != nil {
			t.Fatalf("Decrypt as %s: %v", p.Role, err)
		}
		if payload.TotalKarung != 4 || payload.NamaKarung != "sack" {
			t.Errorf("unexpected payload: %+v", payload)
		}
	}
}

func TestDecrypt_OtherTenantForbidden(t *testing.T) {
	env := newEnvelope(t)
	q, det := storedFixture(t, env, uuid.New())
	led := ledger.New(q, env, quietLogger())

	outsider := access.Principal{ID: uuid.New(), Role: access.RoleOperator, WarehouseID: uuid.New()}
	_, err := led.Decrypt(context.Background(), outsider, det.ID)
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDecrypt_MissingDetection(t *testing.T) {
	env := newEnvelope(t)
	q, _ := storedFixture(t, env, uuid.New())
	led := ledger.New(q, env, quietLogger())

	admin := access.Principal{Role: access.RoleAdmin}
	_, err := led.Decrypt(context.Background(), admin, uuid.New())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	env := newEnvelope(t)
	q, det := storedFixture(t, env, uuid.New())

	tampered := det
	tampered.Ciphertext = append([]byte{}, det.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	q.getDetectionFn = func(_ context.Context, _ uuid.UUID) (store.Detection, error) {
		return tampered, nil
	}
	led := ledger.New(q, env, quietLogger())

	admin := access.Principal{Role: access.RoleAdmin}
	_, err := led.Decrypt(context.Background(), admin, det.ID)
	if !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestDecrypt_NoEncryptedPayload(t *testing.T) {
	env := newEnvelope(t)
	warehouseID := uuid.New()
	q, det := storedFixture(t, env, warehouseID)

	plain := det
	plain.Ciphertext, plain.Nonce, plain.Tag = nil, nil, nil
	q.getDetectionFn = func(_ context.Context, _ uuid.UUID) (store.Detection, error) {
		return plain, nil
	}
	led := ledger.New(q, env, quietLogger())

	admin := access.Principal{Role: access.RoleAdmin}
	_, err := led.Decrypt(context.Background(), admin, det.ID)
	if !errors.Is(err, ledger.ErrNoEncryptedPayload) {
		t.Fatalf("expected ErrNoEncryptedPayload, got %v", err)
	}
}

// raceQuerier is an in-memory store with real claim semantics for the
// concurrent first-write test.
type raceQuerier struct {
	stubQuerier
	mu         sync.Mutex
	warehouse  store.Warehouse
	claims     int
	detections []store.Detection
}

func (r *raceQuerier) GetWarehouseForCamera(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warehouse, nil
}

func (r *raceQuerier) GetWarehouse(_ context.Context, _ uuid.UUID) (store.Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warehouse, nil
}

func (r *raceQuerier) ClaimWarehouseDEK(_ context.Context, arg store.ClaimWarehouseDEKParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warehouse.WrappedDEK != nil {
		return false, nil
	}
	r.warehouse.WrappedDEK = arg.WrappedDEK
	r.warehouse.KeyVersion = arg.KeyVersion
	r.claims++
	return true, nil
}

func (r *raceQuerier) InsertDetection(_ context.Context, arg store.InsertDetectionParams) (store.Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	det := detectionFromParams(arg)
	r.detections = append(r.detections, det)
	return det, nil
}

func TestStore_ConcurrentFirstWrite(t *testing.T) {
	env := newEnvelope(t)
	q := &raceQuerier{warehouse: store.Warehouse{ID: uuid.New()}}
	led := ledger.New(q, env, quietLogger())

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = led.Store(context.Background(), uuid.New(), map[string]int{"sack": 1}, time.Now())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	if q.claims != 1 {
		t.Fatalf("expected exactly one persisted tenant key, got %d claims", q.claims)
	}

	// Every record must be readable under the single surviving DEK.
	dek, err := env.UnwrapDEK(q.warehouse.WrappedDEK, int(q.warehouse.KeyVersion))
	if err != nil {
		t.Fatalf("unwrapping surviving DEK: %v", err)
	}
	if len(q.detections) != writers {
		t.Fatalf("expected %d detections, got %d", writers, len(q.detections))
	}
	for _, det := range q.detections {
		if _, derr := crypto.DecryptPayload(det.Ciphertext, det.Nonce, det.Tag, dek); derr != nil {
			t.Errorf("detection %s not readable under surviving DEK: %v", det.ID, derr)
		}
	}
}
