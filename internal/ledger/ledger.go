// Package ledger turns admitted detection results into encrypted persisted
// records and gates recovery of their plaintext.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/access"
	"github.com/rivaldimahardhika/ProjectMagang/internal/crypto"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

// SentinelNone marks a detection with no objects. It is never persisted as an
// object class row.
const SentinelNone = "none"

// WIB is the deployment timezone (UTC+7) used for payload timestamps.
var WIB = time.FixedZone("WIB", 7*60*60)

var (
	// ErrNotFound reports a missing detection or camera.
	ErrNotFound = errors.New("not found")

	// ErrTenantKeyUnavailable reports that the owning warehouse's key
	// material could not be created, loaded or unwrapped. Persistence for
	// that write is skipped; the caller's live path is unaffected.
	ErrTenantKeyUnavailable = errors.New("tenant key material unavailable")

	// ErrNoEncryptedPayload reports a record persisted without an encrypted
	// payload, so there is nothing to decrypt.
	ErrNoEncryptedPayload = errors.New("detection has no encrypted payload")
)

// Payload is the confidential part of a detection record. Field names match
// the wire format the dashboards were built against.
type Payload struct {
	TotalKarung int            `json:"total_karung"`
	Waktu       string         `json:"waktu"`
	NamaKarung  string         `json:"nama_karung"`
	Counts      map[string]int `json:"counts"`
}

// Ledger coordinates the envelope cipher and per-warehouse key material to
// persist and recover detection records.
type Ledger struct {
	q   store.Querier
	env *crypto.Envelope
	log *logrus.Logger
}

func New(q store.Querier, env *crypto.Envelope, log *logrus.Logger) *Ledger {
	return &Ledger{q: q, env: env, log: log}
}

// Store persists one admitted detection result for cameraID. The full
// per-class breakdown is encrypted under the owning warehouse's DEK; only the
// total count is kept in plaintext for aggregate queries.
func (l *Ledger) Store(ctx context.Context, cameraID uuid.UUID, counts map[string]int, at time.Time) (store.Detection, error) {
	wh, err := l.q.GetWarehouseForCamera(ctx, cameraID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Detection{}, fmt.Errorf("camera %s: %w", cameraID, ErrNotFound)
		}
		return store.Detection{}, fmt.Errorf("resolving warehouse for camera %s: %w", cameraID, err)
	}

	wrapped, version, err := l.ensureTenantKey(ctx, wh)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.store",
			"warehouse_id": wh.ID,
			"camera_id":    cameraID,
		}).WithError(err).Error("tenant key unavailable, dropping detection")
		return store.Detection{}, fmt.Errorf("%w: %v", ErrTenantKeyUnavailable, err)
	}

	total, dominant := summarize(counts)
	payload := Payload{
		TotalKarung: total,
		Waktu:       at.In(WIB).Format(time.RFC3339),
		NamaKarung:  dominant,
		Counts:      counts,
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return store.Detection{}, fmt.Errorf("encoding payload: %w", err)
	}

	ciphertext, nonce, tag, err := l.encryptUnderTenantKey(plaintext, wrapped, int(version))
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.store",
			"warehouse_id": wh.ID,
			"camera_id":    cameraID,
		}).WithError(err).Error("payload encryption failed, dropping detection")
		return store.Detection{}, err
	}

	var classID uuid.NullUUID
	if dominant != SentinelNone {
		oc, err := l.q.GetOrCreateObjectClass(ctx, dominant)
		if err != nil {
			return store.Detection{}, fmt.Errorf("resolving object class %q: %w", dominant, err)
		}
		classID = uuid.NullUUID{UUID: oc.ID, Valid: true}
	}

	det, err := l.q.InsertDetection(ctx, store.InsertDetectionParams{
		OccurredAt: at.In(WIB),
		CameraID:   cameraID,
		ClassID:    classID,
		TotalCount: int32(total),
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Tag:        tag,
	})
	if err != nil {
		return store.Detection{}, fmt.Errorf("persisting detection: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"op":           "ledger.store",
		"warehouse_id": wh.ID,
		"camera_id":    cameraID,
		"detection_id": det.ID,
		"total":        total,
	}).Info("detection persisted")
	return det, nil
}

// Retrieve returns a detection row by id.
func (l *Ledger) Retrieve(ctx context.Context, id uuid.UUID) (store.Detection, error) {
	det, err := l.q.GetDetection(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Detection{}, fmt.Errorf("detection %s: %w", id, ErrNotFound)
		}
		return store.Detection{}, fmt.Errorf("loading detection %s: %w", id, err)
	}
	return det, nil
}

// Decrypt authorizes p against the record's owning warehouse and, when
// allowed, recovers the plaintext payload. Failures return either an explicit
// denial or an error, never partial plaintext.
func (l *Ledger) Decrypt(ctx context.Context, p access.Principal, id uuid.UUID) (*Payload, error) {
	det, err := l.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}

	wh, err := l.q.GetWarehouseForCamera(ctx, det.CameraID)
	if err != nil {
		return nil, fmt.Errorf("resolving warehouse for camera %s: %w", det.CameraID, err)
	}

	if err := access.Authorize(p, wh.ID); err != nil {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.decrypt",
			"warehouse_id": wh.ID,
			"camera_id":    det.CameraID,
			"detection_id": id,
			"principal":    p.ID,
		}).Warn("decrypt denied")
		return nil, err
	}

	if det.Ciphertext == nil {
		return nil, ErrNoEncryptedPayload
	}
	if wh.WrappedDEK == nil {
		return nil, fmt.Errorf("%w: warehouse %s has no wrapped key", ErrTenantKeyUnavailable, wh.ID)
	}

	dek, err := l.env.UnwrapDEK(wh.WrappedDEK, int(wh.KeyVersion))
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.decrypt",
			"warehouse_id": wh.ID,
			"detection_id": id,
		}).WithError(err).Error("dek unwrap failed")
		return nil, err
	}
	defer crypto.Zero(dek)

	plaintext, err := crypto.DecryptPayload(det.Ciphertext, det.Nonce, det.Tag, dek)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.decrypt",
			"warehouse_id": wh.ID,
			"detection_id": id,
		}).WithError(err).Error("payload decryption failed")
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &payload, nil
}

// ensureTenantKey returns the warehouse's wrapped DEK, creating it on the
// first write. Creation is a claim on the NULL column: the loser of a
// concurrent first write discards its freshly generated DEK and re-reads the
// winner's.
func (l *Ledger) ensureTenantKey(ctx context.Context, wh store.Warehouse) ([]byte, int32, error) {
	if wh.WrappedDEK != nil {
		return wh.WrappedDEK, wh.KeyVersion, nil
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return nil, 0, fmt.Errorf("generating dek: %w", err)
	}
	defer crypto.Zero(dek)

	wrapped, version, err := l.env.WrapDEK(dek)
	if err != nil {
		return nil, 0, fmt.Errorf("wrapping dek: %w", err)
	}

	claimed, err := l.q.ClaimWarehouseDEK(ctx, store.ClaimWarehouseDEKParams{
		ID:         wh.ID,
		WrappedDEK: wrapped,
		KeyVersion: int32(version),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("installing dek: %w", err)
	}
	if claimed {
		l.log.WithFields(logrus.Fields{
			"op":           "ledger.ensure_key",
			"warehouse_id": wh.ID,
			"key_version":  version,
		}).Info("tenant key material created")
		return wrapped, int32(version), nil
	}

	// Lost the race: another writer installed a key first.
	fresh, err := l.q.GetWarehouse(ctx, wh.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("re-reading warehouse after claim: %w", err)
	}
	if fresh.WrappedDEK == nil {
		return nil, 0, errors.New("warehouse has no wrapped dek after failed claim")
	}
	return fresh.WrappedDEK, fresh.KeyVersion, nil
}

// encryptUnderTenantKey unwraps the DEK, encrypts plaintext and zeroes the
// unwrapped key before returning on every path.
func (l *Ledger) encryptUnderTenantKey(plaintext, wrapped []byte, version int) (ciphertext, nonce, tag []byte, err error) {
	dek, err := l.env.UnwrapDEK(wrapped, version)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrTenantKeyUnavailable, err)
	}
	defer crypto.Zero(dek)
	return crypto.EncryptPayload(plaintext, dek)
}

// summarize reduces a class-count mapping to the plaintext total and the
// dominant class name. Dominance is the highest count, ties broken by name so
// the result is deterministic.
func summarize(counts map[string]int) (total int, dominant string) {
	dominant = SentinelNone
	best := 0
	for name, n := range counts {
		if n <= 0 {
			continue
		}
		total += n
		if n > best || (n == best && (dominant == SentinelNone || name < dominant)) {
			best = n
			dominant = name
		}
	}
	return total, dominant
}
