package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Querier is the persistence surface the rest of the system depends on.
// *Queries implements it against postgres; tests stub it.
type Querier interface {
	CreateWarehouse(ctx context.Context, arg CreateWarehouseParams) (Warehouse, error)
	GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error)
	GetWarehouseForCamera(ctx context.Context, cameraID uuid.UUID) (Warehouse, error)
	// ClaimWarehouseDEK atomically installs a wrapped DEK on a warehouse that
	// has none. It reports false when another writer already installed one;
	// the caller must discard its DEK and re-read the winner's.
	ClaimWarehouseDEK(ctx context.Context, arg ClaimWarehouseDEKParams) (bool, error)

	CreateCamera(ctx context.Context, arg CreateCameraParams) (Camera, error)
	GetCamera(ctx context.Context, id uuid.UUID) (Camera, error)
	GetCameraByName(ctx context.Context, arg GetCameraByNameParams) (Camera, error)

	GetOrCreateObjectClass(ctx context.Context, name string) (ObjectClass, error)

	InsertDetection(ctx context.Context, arg InsertDetectionParams) (Detection, error)
	GetDetection(ctx context.Context, id uuid.UUID) (Detection, error)
	ListDetections(ctx context.Context, arg ListDetectionsParams) ([]DetectionSummary, error)
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CameraStatsAll(ctx context.Context) ([]CameraStats, error)
	ClassStatsAll(ctx context.Context) ([]ClassStats, error)

	CreatePrincipal(ctx context.Context, arg CreatePrincipalParams) (Principal, error)
	GetPrincipalByAPIKeyHash(ctx context.Context, apiKeyHash string) (Principal, error)
}

type CreateWarehouseParams struct {
	Name     string
	Location string
	Capacity int32
}

type ClaimWarehouseDEKParams struct {
	ID         uuid.UUID
	WrappedDEK []byte
	KeyVersion int32
}

type CreateCameraParams struct {
	Name        string
	WarehouseID uuid.UUID
}

type GetCameraByNameParams struct {
	Name        string
	WarehouseID uuid.UUID
}

type InsertDetectionParams struct {
	OccurredAt time.Time
	CameraID   uuid.UUID
	ClassID    uuid.NullUUID
	TotalCount int32
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

type ListDetectionsParams struct {
	WarehouseID uuid.NullUUID
	CameraID    uuid.NullUUID
	From        *time.Time
	To          *time.Time
	Limit       int32
	Offset      int32
}

type CreatePrincipalParams struct {
	Name        string
	Role        string
	WarehouseID uuid.NullUUID
	APIKeyHash  string
}
