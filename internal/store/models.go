package store

import (
	"time"

	"github.com/google/uuid"
)

// Warehouse is the tenant and unit of key isolation. WrappedDEK is nil until
// the first detection write for the warehouse; KeyVersion records the wrap
// scheme the DEK was wrapped under.
type Warehouse struct {
	ID         uuid.UUID
	Name       string
	Location   string
	Capacity   int32
	WrappedDEK []byte
	KeyVersion int32
	CreatedAt  time.Time
}

// Camera belongs to exactly one warehouse.
type Camera struct {
	ID          uuid.UUID
	Name        string
	WarehouseID uuid.UUID
	CreatedAt   time.Time
}

// ObjectClass is a deduplicated lookup of detected class names.
type ObjectClass struct {
	ID   uuid.UUID
	Name string
}

// Detection is one persisted detection event. The encrypted payload columns
// are either all set or all nil; a table constraint rejects partial state.
type Detection struct {
	ID         uuid.UUID
	OccurredAt time.Time
	CameraID   uuid.UUID
	ClassID    uuid.NullUUID
	TotalCount int32
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// DetectionSummary is the non-sensitive projection used for history listings.
type DetectionSummary struct {
	ID         uuid.UUID
	OccurredAt time.Time
	CameraID   uuid.UUID
	CameraName string
	ClassName  string
	TotalCount int32
}

// Principal is an API caller: an administrator (no warehouse) or an operator
// bound to one warehouse.
type Principal struct {
	ID          uuid.UUID
	Name        string
	Role        string
	WarehouseID uuid.NullUUID
	APIKeyHash  string
	CreatedAt   time.Time
}

// CameraStats aggregates plaintext counts per camera.
type CameraStats struct {
	CameraID     uuid.UUID
	CameraName   string
	Detections   int64
	TotalObjects int64
}

// ClassStats aggregates detections per object class.
type ClassStats struct {
	ClassName  string
	Detections int64
}
