package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/access"
	"github.com/rivaldimahardhika/ProjectMagang/internal/auth"
	"github.com/rivaldimahardhika/ProjectMagang/internal/crypto"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ingest"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ledger"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

type Handler struct {
	queries store.Querier
	ledger  *ledger.Ledger
	gate    *ingest.Gate
	authSvc *auth.Service
	log     *logrus.Logger

	now func() time.Time
}

// Health reports process liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateWarehouse provisions a new warehouse (tenant).
func (h *Handler) CreateWarehouse(c *gin.Context) {
	var body struct {
		Name     string `json:"name" binding:"required"`
		Location string `json:"location" binding:"required"`
		Capacity int32  `json:"capacity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.queries.CreateWarehouse(c.Request.Context(), store.CreateWarehouseParams{
		Name:     body.Name,
		Location: body.Location,
		Capacity: body.Capacity,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create warehouse"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"warehouse_id": w.ID, "name": w.Name})
}

// CreatePrincipal issues an API key for a new principal. The raw key is
// returned once and never stored.
func (h *Handler) CreatePrincipal(c *gin.Context) {
	var body struct {
		Name        string `json:"name" binding:"required"`
		Role        string `json:"role" binding:"required"`
		WarehouseID string `json:"warehouse_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := access.ParseRole(body.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	warehouseID := uuid.Nil
	if body.WarehouseID != "" {
		warehouseID, err = uuid.Parse(body.WarehouseID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid warehouse_id"})
			return
		}
	}

	rawKey, p, err := h.authSvc.CreatePrincipal(c.Request.Context(), body.Name, role, warehouseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"principal_id": p.ID,
		"api_key":      rawKey,
		"note":         "Store this API key — it will not be shown again.",
	})
}

// SetPersistence toggles the global detection persistence switch.
func (h *Handler) SetPersistence(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.gate.SetEnabled(*body.Enabled)
	h.log.WithField("enabled", *body.Enabled).Info("persistence switch changed")
	c.JSON(http.StatusOK, gin.H{"enabled": h.gate.Enabled()})
}

// RegisterCamera registers a camera in a warehouse, reusing an existing row
// when the name is already taken there. Operators register into their own
// warehouse; administrators must name one.
func (h *Handler) RegisterCamera(c *gin.Context) {
	p := auth.FromContext(c)

	var body struct {
		Name        string `json:"name" binding:"required"`
		WarehouseID string `json:"warehouse_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	warehouseID := p.WarehouseID
	if p.IsAdmin() {
		id, err := uuid.Parse(body.WarehouseID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "warehouse_id is required for admin"})
			return
		}
		warehouseID = id
	}

	ctx := c.Request.Context()
	existing, err := h.queries.GetCameraByName(ctx, store.GetCameraByNameParams{
		Name:        body.Name,
		WarehouseID: warehouseID,
	})
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "exists", "camera_id": existing.ID})
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up camera"})
		return
	}

	cam, err := h.queries.CreateCamera(ctx, store.CreateCameraParams{
		Name:        body.Name,
		WarehouseID: warehouseID,
	})
	if err != nil {
		// A concurrent registration can slip past the exists check and hit
		// the UNIQUE (warehouse_id, name) constraint. Re-read and report the
		// winner's row.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			existing, rerr := h.queries.GetCameraByName(ctx, store.GetCameraByNameParams{
				Name:        body.Name,
				WarehouseID: warehouseID,
			})
			if rerr == nil {
				c.JSON(http.StatusOK, gin.H{"status": "exists", "camera_id": existing.ID})
				return
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register camera"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "created", "camera_id": cam.ID})
}

// IngestDetection accepts one detection result from the inference
// collaborator. Throttled or key-unavailable writes are skipped, not errors:
// the caller's live video path must not be affected.
func (h *Handler) IngestDetection(c *gin.Context) {
	var body struct {
		CameraID   string         `json:"camera_id" binding:"required"`
		Counts     map[string]int `json:"counts" binding:"required"`
		OccurredAt string         `json:"occurred_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cameraID, err := uuid.Parse(body.CameraID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
		return
	}
	for name, n := range body.Counts {
		if n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "negative count for class " + name})
			return
		}
	}

	at := h.now()
	if body.OccurredAt != "" {
		at, err = time.Parse(time.RFC3339, body.OccurredAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "occurred_at must be RFC3339"})
			return
		}
	}

	if !h.gate.Enabled() {
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": "persistence disabled"})
		return
	}
	// Admission runs on the server clock; occurred_at only timestamps the
	// record. A caller-controlled clock could otherwise bypass the cooldown or
	// starve the camera with a far-future timestamp.
	if !h.gate.Admit(cameraID, h.now()) {
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": "throttled"})
		return
	}

	det, err := h.ledger.Store(c.Request.Context(), cameraID, body.Counts, at)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{
			"status":       "saved",
			"detection_id": det.ID,
			"total":        det.TotalCount,
		})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
	case errors.Is(err, ledger.ErrTenantKeyUnavailable):
		// Soft failure: only history logging is affected.
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": "tenant key unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist detection"})
	}
}

// DecryptDetection authorizes the caller and returns the decrypted payload.
// Forbidden and missing records are indistinguishable to non-administrators.
func (h *Handler) DecryptDetection(c *gin.Context) {
	p := auth.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detection id"})
		return
	}

	payload, err := h.ledger.Decrypt(c.Request.Context(), p, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "payload": payload})
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, access.ErrForbidden):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ledger.ErrNoEncryptedPayload):
		c.JSON(http.StatusConflict, gin.H{"error": "detection has no encrypted payload"})
	case errors.Is(err, crypto.ErrAuthentication), errors.Is(err, crypto.ErrUnwrap):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decryption failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load detection"})
	}
}

// ListDetections returns the non-sensitive history projection. Operators are
// scoped to their own warehouse regardless of filters.
func (h *Handler) ListDetections(c *gin.Context) {
	p := auth.FromContext(c)

	var params store.ListDetectionsParams
	if !p.IsAdmin() {
		params.WarehouseID = uuid.NullUUID{UUID: p.WarehouseID, Valid: true}
	}

	if v := c.Query("camera_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
			return
		}
		params.CameraID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		params.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		params.To = &t
	}
	params.Limit = int32(queryInt(c, "limit", 50))
	params.Offset = int32(queryInt(c, "offset", 0))

	rows, err := h.queries.ListDetections(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list detections"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"detection_id": r.ID,
			"occurred_at":  r.OccurredAt,
			"camera_id":    r.CameraID,
			"camera_name":  r.CameraName,
			"class_name":   r.ClassName,
			"total_count":  r.TotalCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"detections": out})
}

// Stats returns plaintext aggregates for the dashboard.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	cameras, err := h.queries.CameraStatsAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate cameras"})
		return
	}
	classes, err := h.queries.ClassStatsAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate classes"})
		return
	}

	perCamera := make([]gin.H, 0, len(cameras))
	for _, s := range cameras {
		perCamera = append(perCamera, gin.H{
			"camera_id":     s.CameraID,
			"camera_name":   s.CameraName,
			"detections":    s.Detections,
			"total_objects": s.TotalObjects,
		})
	}
	perClass := make([]gin.H, 0, len(classes))
	for _, s := range classes {
		perClass = append(perClass, gin.H{
			"class_name": s.ClassName,
			"detections": s.Detections,
		})
	}

	c.JSON(http.StatusOK, gin.H{"per_camera": perCamera, "per_class": perClass})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
