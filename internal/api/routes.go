// Package api exposes the detection ledger over HTTP. Handlers are thin
// adapters: admission, encryption and authorization decisions all live in the
// core packages.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/auth"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ingest"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ledger"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

func RegisterRoutes(r *gin.Engine, q store.Querier, led *ledger.Ledger, gate *ingest.Gate, authSvc *auth.Service, log *logrus.Logger) *Handler {
	h := &Handler{
		queries: q,
		ledger:  led,
		gate:    gate,
		authSvc: authSvc,
		log:     log,
		now:     time.Now,
	}

	r.GET("/health", h.Health)

	authed := r.Group("/", authSvc.Middleware())
	{
		authed.POST("/cameras", h.RegisterCamera)
		authed.POST("/detections", h.IngestDetection)
		authed.GET("/detections", h.ListDetections)
		authed.GET("/detections/:id/plaintext", h.DecryptDetection)

		admin := authed.Group("/", auth.RequireAdmin())
		{
			admin.POST("/warehouses", h.CreateWarehouse)
			admin.POST("/admin/principals", h.CreatePrincipal)
			admin.PUT("/admin/persistence", h.SetPersistence)
			admin.GET("/stats", h.Stats)
		}
	}

	return h
}
