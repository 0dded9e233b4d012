package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS warehouses (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	location TEXT NOT NULL,
	capacity INTEGER NOT NULL DEFAULT 0,
	wrapped_dek BYTEA,
	key_version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cameras (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	warehouse_id UUID NOT NULL REFERENCES warehouses(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (warehouse_id, name)
);

CREATE TABLE IF NOT EXISTS object_classes (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS detections (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	occurred_at TIMESTAMPTZ NOT NULL,
	camera_id UUID NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
	class_id UUID REFERENCES object_classes(id),
	total_count INTEGER NOT NULL DEFAULT 0,
	ciphertext BYTEA,
	nonce BYTEA,
	tag BYTEA,
	CONSTRAINT detections_encrypted_all_or_none CHECK (
		(ciphertext IS NULL AND nonce IS NULL AND tag IS NULL)
		OR (ciphertext IS NOT NULL AND nonce IS NOT NULL AND tag IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_detections_camera ON detections(camera_id);
CREATE INDEX IF NOT EXISTS idx_detections_occurred_at ON detections(occurred_at);

CREATE TABLE IF NOT EXISTS principals (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	warehouse_id UUID REFERENCES warehouses(id) ON DELETE CASCADE,
	api_key_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
