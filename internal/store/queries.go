// Package store implements postgres persistence for warehouses, cameras,
// object classes, detections and principals.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier against a postgres connection or pool.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const createWarehouse = `
INSERT INTO warehouses (name, location, capacity)
VALUES ($1, $2, $3)
RETURNING id, name, location, capacity, wrapped_dek, key_version, created_at
`

func (q *Queries) CreateWarehouse(ctx context.Context, arg CreateWarehouseParams) (Warehouse, error) {
	row := q.db.QueryRow(ctx, createWarehouse, arg.Name, arg.Location, arg.Capacity)
	return scanWarehouse(row)
}

const getWarehouse = `
SELECT id, name, location, capacity, wrapped_dek, key_version, created_at
FROM warehouses WHERE id = $1
`

func (q *Queries) GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error) {
	return scanWarehouse(q.db.QueryRow(ctx, getWarehouse, id))
}

const getWarehouseForCamera = `
SELECT w.id, w.name, w.location, w.capacity, w.wrapped_dek, w.key_version, w.created_at
FROM warehouses w
JOIN cameras c ON c.warehouse_id = w.id
WHERE c.id = $1
`

func (q *Queries) GetWarehouseForCamera(ctx context.Context, cameraID uuid.UUID) (Warehouse, error) {
	return scanWarehouse(q.db.QueryRow(ctx, getWarehouseForCamera, cameraID))
}

const claimWarehouseDEK = `
UPDATE warehouses
SET wrapped_dek = $2, key_version = $3
WHERE id = $1 AND wrapped_dek IS NULL
`

func (q *Queries) ClaimWarehouseDEK(ctx context.Context, arg ClaimWarehouseDEKParams) (bool, error) {
	tag, err := q.db.Exec(ctx, claimWarehouseDEK, arg.ID, arg.WrappedDEK, arg.KeyVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const createCamera = `
INSERT INTO cameras (name, warehouse_id)
VALUES ($1, $2)
RETURNING id, name, warehouse_id, created_at
`

func (q *Queries) CreateCamera(ctx context.Context, arg CreateCameraParams) (Camera, error) {
	row := q.db.QueryRow(ctx, createCamera, arg.Name, arg.WarehouseID)
	return scanCamera(row)
}

const getCamera = `
SELECT id, name, warehouse_id, created_at FROM cameras WHERE id = $1
`

func (q *Queries) GetCamera(ctx context.Context, id uuid.UUID) (Camera, error) {
	return scanCamera(q.db.QueryRow(ctx, getCamera, id))
}

const getCameraByName = `
SELECT id, name, warehouse_id, created_at
FROM cameras WHERE name = $1 AND warehouse_id = $2
`

func (q *Queries) GetCameraByName(ctx context.Context, arg GetCameraByNameParams) (Camera, error) {
	return scanCamera(q.db.QueryRow(ctx, getCameraByName, arg.Name, arg.WarehouseID))
}

const getOrCreateObjectClass = `
INSERT INTO object_classes (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name
`

func (q *Queries) GetOrCreateObjectClass(ctx context.Context, name string) (ObjectClass, error) {
	var oc ObjectClass
	err := q.db.QueryRow(ctx, getOrCreateObjectClass, name).Scan(&oc.ID, &oc.Name)
	return oc, err
}

const insertDetection = `
INSERT INTO detections (occurred_at, camera_id, class_id, total_count, ciphertext, nonce, tag)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, occurred_at, camera_id, class_id, total_count, ciphertext, nonce, tag
`

func (q *Queries) InsertDetection(ctx context.Context, arg InsertDetectionParams) (Detection, error) {
	row := q.db.QueryRow(ctx, insertDetection,
		arg.OccurredAt, arg.CameraID, arg.ClassID, arg.TotalCount,
		arg.Ciphertext, arg.Nonce, arg.Tag)
	return scanDetection(row)
}

const getDetection = `
SELECT id, occurred_at, camera_id, class_id, total_count, ciphertext, nonce, tag
FROM detections WHERE id = $1
`

func (q *Queries) GetDetection(ctx context.Context, id uuid.UUID) (Detection, error) {
	return scanDetection(q.db.QueryRow(ctx, getDetection, id))
}

const listDetections = `
SELECT d.id, d.occurred_at, d.camera_id, c.name,
       COALESCE(oc.name, 'none'), d.total_count
FROM detections d
JOIN cameras c ON c.id = d.camera_id
LEFT JOIN object_classes oc ON oc.id = d.class_id
WHERE ($1::uuid IS NULL OR c.warehouse_id = $1)
  AND ($2::uuid IS NULL OR d.camera_id = $2)
  AND ($3::timestamptz IS NULL OR d.occurred_at >= $3)
  AND ($4::timestamptz IS NULL OR d.occurred_at <= $4)
ORDER BY d.occurred_at DESC
LIMIT $5 OFFSET $6
`

func (q *Queries) ListDetections(ctx context.Context, arg ListDetectionsParams) ([]DetectionSummary, error) {
	limit := arg.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(ctx, listDetections, arg.WarehouseID, arg.CameraID, arg.From, arg.To, limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionSummary
	for rows.Next() {
		var s DetectionSummary
		if err := rows.Scan(&s.ID, &s.OccurredAt, &s.CameraID, &s.CameraName, &s.ClassName, &s.TotalCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const deleteDetectionsBefore = `
DELETE FROM detections WHERE occurred_at < $1
`

func (q *Queries) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteDetectionsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const cameraStatsAll = `
SELECT c.id, c.name, COUNT(d.id), COALESCE(SUM(d.total_count), 0)
FROM cameras c
LEFT JOIN detections d ON d.camera_id = c.id
GROUP BY c.id, c.name
ORDER BY c.name
`

func (q *Queries) CameraStatsAll(ctx context.Context) ([]CameraStats, error) {
	rows, err := q.db.Query(ctx, cameraStatsAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CameraStats
	for rows.Next() {
		var s CameraStats
		if err := rows.Scan(&s.CameraID, &s.CameraName, &s.Detections, &s.TotalObjects); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const classStatsAll = `
SELECT oc.name, COUNT(d.id)
FROM object_classes oc
JOIN detections d ON d.class_id = oc.id
GROUP BY oc.name
ORDER BY COUNT(d.id) DESC
`

func (q *Queries) ClassStatsAll(ctx context.Context) ([]ClassStats, error) {
	rows, err := q.db.Query(ctx, classStatsAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClassStats
	for rows.Next() {
		var s ClassStats
		if err := rows.Scan(&s.ClassName, &s.Detections); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const createPrincipal = `
INSERT INTO principals (name, role, warehouse_id, api_key_hash)
VALUES ($1, $2, $3, $4)
RETURNING id, name, role, warehouse_id, api_key_hash, created_at
`

func (q *Queries) CreatePrincipal(ctx context.Context, arg CreatePrincipalParams) (Principal, error) {
	row := q.db.QueryRow(ctx, createPrincipal, arg.Name, arg.Role, arg.WarehouseID, arg.APIKeyHash)
	return scanPrincipal(row)
}

const getPrincipalByAPIKeyHash = `
SELECT id, name, role, warehouse_id, api_key_hash, created_at
FROM principals WHERE api_key_hash = $1
`

func (q *Queries) GetPrincipalByAPIKeyHash(ctx context.Context, apiKeyHash string) (Principal, error) {
	return scanPrincipal(q.db.QueryRow(ctx, getPrincipalByAPIKeyHash, apiKeyHash))
}

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Name, &w.Location, &w.Capacity, &w.WrappedDEK, &w.KeyVersion, &w.CreatedAt)
	return w, err
}

func scanCamera(row pgx.Row) (Camera, error) {
	var c Camera
	err := row.Scan(&c.ID, &c.Name, &c.WarehouseID, &c.CreatedAt)
	return c, err
}

func scanDetection(row pgx.Row) (Detection, error) {
	var d Detection
	err := row.Scan(&d.ID, &d.OccurredAt, &d.CameraID, &d.ClassID, &d.TotalCount, &d.Ciphertext, &d.Nonce, &d.Tag)
	return d, err
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(&p.ID, &p.Name, &p.Role, &p.WarehouseID, &p.APIKeyHash, &p.CreatedAt)
	return p, err
}
