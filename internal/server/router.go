package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/roomlens/roomlens/internal/repository"
	"github.com/roomlens/roomlens/internal/scan"
	"github.com/roomlens/roomlens/internal/store"
	"go.uber.org/zap"
)

var errMissingRepository = errors.New("repository dependency required")

// Dependencies carries the collaborators of the HTTP handler.
type Dependencies struct {
	Repository *repository.Repository
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router over the scan repository.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Repository == nil {
		return nil, errMissingRepository
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		repository: deps.Repository,
		logger:     logger,
	}

	router.POST("/scans", handler.handleCreateScan)
	router.GET("/scans", handler.handleListScans)
	router.DELETE("/scans/:id", handler.handleDeleteScan)
	router.POST("/scans/:id/notes", handler.handleAddNote)
	router.GET("/scans/:id/notes", handler.handleListNotes)
	router.GET("/scans/:id/sync", handler.handleSyncStatus)
	router.POST("/sync/trigger", handler.handleTriggerSync)
	router.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	repository *repository.Repository
	logger     *zap.Logger
}

type dimensionsPayload struct {
	WidthMeters  float64 `json:"width_m"`
	LengthMeters float64 `json:"length_m"`
	HeightMeters float64 `json:"height_m"`
}

type createScanRequestPayload struct {
	RoomName      string            `json:"room_name"`
	Dimensions    dimensionsPayload `json:"dimensions"`
	PointCloudRef string            `json:"point_cloud_ref"`
	ImageRefs     []string          `json:"image_refs"`
}

type scanResponsePayload struct {
	ID               string                  `json:"id"`
	RoomName         string                  `json:"room_name"`
	CreatedAtSeconds int64                   `json:"created_at_s"`
	Dimensions       dimensionsPayload       `json:"dimensions"`
	FloorArea        float64                 `json:"floor_area_m2"`
	Volume           float64                 `json:"volume_m3"`
	PointCloudRef    string                  `json:"point_cloud_ref"`
	Findings         []scan.Finding          `json:"findings"`
	Materials        []scan.MaterialEstimate `json:"materials"`
	SyncState        scan.SyncState          `json:"sync_state"`
	RetryCount       int                     `json:"retry_count"`
	RemoteID         string                  `json:"remote_id,omitempty"`
}

func (h *httpHandler) handleCreateScan(c *gin.Context) {
	var request createScanRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	roomName, err := scan.NewRoomName(request.RoomName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_name"})
		return
	}
	dimensions, err := scan.NewRoomDimensions(
		request.Dimensions.WidthMeters,
		request.Dimensions.LengthMeters,
		request.Dimensions.HeightMeters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dimensions"})
		return
	}

	images := make([]scan.CapturedImage, 0, len(request.ImageRefs))
	for _, ref := range request.ImageRefs {
		images = append(images, scan.CapturedImage{Ref: ref})
	}

	record, err := h.repository.CreateScan(c.Request.Context(), repository.CreateScanInput{
		Images:        images,
		Dimensions:    dimensions,
		RoomName:      roomName,
		PointCloudRef: request.PointCloudRef,
	})
	if err != nil {
		h.logger.Warn("scan creation failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "scan_creation_failed"})
		return
	}

	view, err := renderScan(record)
	if err != nil {
		h.logger.Error("scan rendering failed", zap.String("scan_id", record.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render_failed"})
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleListScans(c *gin.Context) {
	records, err := h.repository.ListScans(c.Request.Context())
	if err != nil {
		h.logger.Error("scan listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	views := make([]scanResponsePayload, 0, len(records))
	for _, record := range records {
		view, err := renderScan(record)
		if err != nil {
			h.logger.Error("scan rendering failed", zap.String("scan_id", record.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "render_failed"})
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"scans": views})
}

func (h *httpHandler) handleDeleteScan(c *gin.Context) {
	scanID, err := scan.NewScanID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scan_id"})
		return
	}

	if err := h.repository.DeleteScan(c.Request.Context(), scanID); err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan_not_found"})
			return
		}
		h.logger.Error("scan deletion failed", zap.String("scan_id", scanID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type addNoteRequestPayload struct {
	Body string `json:"body"`
}

type noteResponsePayload struct {
	ID               string         `json:"id"`
	ScanID           string         `json:"scan_id"`
	Body             string         `json:"body"`
	CreatedAtSeconds int64          `json:"created_at_s"`
	SyncState        scan.SyncState `json:"sync_state"`
	RetryCount       int            `json:"retry_count"`
	RemoteID         string         `json:"remote_id,omitempty"`
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	scanID, err := scan.NewScanID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scan_id"})
		return
	}

	var request addNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.repository.AddNote(c.Request.Context(), scanID, request.Body)
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan_not_found"})
			return
		}
		h.logger.Warn("note creation failed", zap.String("scan_id", scanID.String()), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "note_creation_failed"})
		return
	}

	c.JSON(http.StatusCreated, renderNote(record))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	scanID, err := scan.NewScanID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scan_id"})
		return
	}

	records, err := h.repository.ListNotes(c.Request.Context(), scanID)
	if err != nil {
		h.logger.Error("note listing failed", zap.String("scan_id", scanID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	views := make([]noteResponsePayload, 0, len(records))
	for _, record := range records {
		views = append(views, renderNote(record))
	}
	c.JSON(http.StatusOK, gin.H{"notes": views})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	scanID, err := scan.NewScanID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scan_id"})
		return
	}

	status, err := h.repository.GetSyncStatus(c.Request.Context(), scanID)
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan_not_found"})
			return
		}
		h.logger.Error("sync status query failed", zap.String("scan_id", scanID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sync_state":  status.State,
		"retry_count": status.RetryCount,
		"remote_id":   status.RemoteID,
	})
}

func (h *httpHandler) handleTriggerSync(c *gin.Context) {
	h.repository.TriggerSync()
	c.Status(http.StatusAccepted)
}

// handleEvents streams scan snapshots over SSE. Every committed local
// mutation, sync-state write-backs included, produces a fresh snapshot event.
func (h *httpHandler) handleEvents(c *gin.Context) {
	snapshots, stop := h.repository.ObserveScans(c.Request.Context())
	defer stop()

	c.Stream(func(w io.Writer) bool {
		records, ok := <-snapshots
		if !ok {
			return false
		}
		views := make([]scanResponsePayload, 0, len(records))
		for _, record := range records {
			view, err := renderScan(record)
			if err != nil {
				h.logger.Error("scan rendering failed", zap.String("scan_id", record.ID), zap.Error(err))
				continue
			}
			views = append(views, view)
		}
		c.SSEvent("scans", gin.H{"scans": views})
		return true
	})
}

func renderScan(record scan.ScanRecord) (scanResponsePayload, error) {
	findings, err := record.Findings()
	if err != nil {
		return scanResponsePayload{}, err
	}
	materials, err := record.Materials()
	if err != nil {
		return scanResponsePayload{}, err
	}
	dimensions := record.Dimensions()
	return scanResponsePayload{
		ID:               record.ID,
		RoomName:         record.RoomName,
		CreatedAtSeconds: record.CreatedAtSeconds,
		Dimensions: dimensionsPayload{
			WidthMeters:  dimensions.WidthMeters,
			LengthMeters: dimensions.LengthMeters,
			HeightMeters: dimensions.HeightMeters,
		},
		FloorArea:     dimensions.FloorArea(),
		Volume:        dimensions.Volume(),
		PointCloudRef: record.PointCloudRef,
		Findings:      findings,
		Materials:     materials,
		SyncState:     record.SyncState,
		RetryCount:    record.RetryCount,
		RemoteID:      record.RemoteID,
	}, nil
}

func renderNote(record scan.NoteRecord) noteResponsePayload {
	return noteResponsePayload{
		ID:               record.ID,
		ScanID:           record.ScanID,
		Body:             record.Body,
		CreatedAtSeconds: record.CreatedAtSeconds,
		SyncState:        record.SyncState,
		RetryCount:       record.RetryCount,
		RemoteID:         record.RemoteID,
	}
}
