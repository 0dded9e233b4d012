package gudang

import "time"

type HealthResponse struct {
	Status string `json:"status"`
}

type CreateWarehouseRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int    `json:"capacity,omitempty"`
}

type CreateWarehouseResponse struct {
	WarehouseID string `json:"warehouse_id"`
	Name        string `json:"name"`
}

type CreatePrincipalRequest struct {
	Name        string `json:"name"`
	Role        string `json:"role"` // "admin" or "operator"
	WarehouseID string `json:"warehouse_id,omitempty"`
}

type CreatePrincipalResponse struct {
	PrincipalID string `json:"principal_id"`
	APIKey      string `json:"api_key"`
	Note        string `json:"note"`
}

type PersistenceResponse struct {
	Enabled bool `json:"enabled"`
}

type RegisterCameraRequest struct {
	Name        string `json:"name"`
	WarehouseID string `json:"warehouse_id,omitempty"` // required for admin keys
}

type RegisterCameraResponse struct {
	Status   string `json:"status"` // "created" or "exists"
	CameraID string `json:"camera_id"`
}

type IngestDetectionRequest struct {
	CameraID   string         `json:"camera_id"`
	Counts     map[string]int `json:"counts"`
	OccurredAt string         `json:"occurred_at,omitempty"` // RFC3339, defaults to server time
}

type IngestDetectionResponse struct {
	Status      string `json:"status"` // "saved" or "skipped"
	Reason      string `json:"reason,omitempty"`
	DetectionID string `json:"detection_id,omitempty"`
	Total       int    `json:"total,omitempty"`
}

// DetectionPayload is the decrypted confidential payload of a detection.
type DetectionPayload struct {
	TotalKarung int            `json:"total_karung"`
	Waktu       string         `json:"waktu"`
	NamaKarung  string         `json:"nama_karung"`
	Counts      map[string]int `json:"counts"`
}

type PlaintextResponse struct {
	OK      bool             `json:"ok"`
	Payload DetectionPayload `json:"payload"`
}

type ListDetectionsFilter struct {
	CameraID string
	From     string // RFC3339
	To       string // RFC3339
	Limit    int
	Offset   int
}

type DetectionSummary struct {
	DetectionID string    `json:"detection_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	CameraID    string    `json:"camera_id"`
	CameraName  string    `json:"camera_name"`
	ClassName   string    `json:"class_name"`
	TotalCount  int       `json:"total_count"`
}

type ListDetectionsResponse struct {
	Detections []DetectionSummary `json:"detections"`
}

type CameraStats struct {
	CameraID     string `json:"camera_id"`
	CameraName   string `json:"camera_name"`
	Detections   int64  `json:"detections"`
	TotalObjects int64  `json:"total_objects"`
}

type ClassStats struct {
	ClassName  string `json:"class_name"`
	Detections int64  `json:"detections"`
}

type StatsResponse struct {
	PerCamera []CameraStats `json:"per_camera"`
	PerClass  []ClassStats  `json:"per_class"`
}
