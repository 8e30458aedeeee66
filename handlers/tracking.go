package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatherly-backend/models"
	"gatherly-backend/qrtoken"
	"gatherly-backend/store"
	"gatherly-backend/verify"
)

type TrackingHandler struct {
	events    store.EventStore
	tokens    store.TokenStore
	verifier  *verify.Verifier
	imageDir  string
	imageSize int
	logger    *zap.Logger
}

func NewTrackingHandler(events store.EventStore, tokens store.TokenStore, verifier *verify.Verifier, imageDir string, imageSize int, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		events:    events,
		tokens:    tokens,
		verifier:  verifier,
		imageDir:  imageDir,
		imageSize: imageSize,
		logger:    logger,
	}
}

// VerifyQR is the write surface of the scan workflow. Every submission,
// optical or manual, lands here.
func (h *TrackingHandler) VerifyQR(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}

	staffID := strings.TrimSpace(c.GetHeader("X-Staff-Id"))
	if staffID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Missing staff identity"})
		return
	}

	var req models.VerifyQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if _, err := h.events.GetEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
			return
		}
		h.logger.Error("failed to load event for scan", zap.Error(err), zap.String("event_id", eventID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	outcome, err := h.verifier.Verify(c.Request.Context(), eventID, strings.TrimSpace(req.QRData), staffID)
	if err != nil {
		h.logger.Error("verification failed", zap.Error(err), zap.String("event_id", eventID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to verify QR code"})
		return
	}

	c.JSON(statusFor(outcome), outcome)
}

// statusFor maps outcome kinds onto HTTP statuses; the envelope's success
// flag stays authoritative for clients.
func statusFor(out *models.ScanOutcome) int {
	if out.Success {
		return http.StatusOK
	}
	switch {
	case strings.HasPrefix(out.Message, verify.MsgAlreadyScanned):
		return http.StatusConflict
	case out.Message == verify.MsgWrongEvent:
		return http.StatusBadRequest
	default:
		return http.StatusNotFound
	}
}

// CreateTrackingConfig establishes an event's tracking purposes: one token
// per team per tracker, each with a rendered QR artifact.
func (h *TrackingHandler) CreateTrackingConfig(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}

	var req models.TrackingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if len(req.Trackers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "At least one tracker is required"})
		return
	}
	for _, tr := range req.Trackers {
		if !tr.TrackingType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unknown tracking type: " + string(tr.TrackingType)})
			return
		}
	}

	ctx := c.Request.Context()
	if _, err := h.events.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	teams, err := h.events.ListTeams(ctx, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if len(teams) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Event has no registered teams"})
		return
	}

	var created []*models.TrackingToken
	for _, team := range teams {
		for _, tr := range req.Trackers {
			tok := &models.TrackingToken{
				ID:           uuid.New(),
				Code:         qrtoken.Generate(),
				EventID:      eventID,
				TeamID:       team.ID,
				TeamName:     team.Name,
				Label:        tr.Label,
				TrackingType: tr.TrackingType,
				CreatedAt:    time.Now().UTC(),
			}

			if err := h.renderImage(tok); err != nil {
				h.logger.Error("failed to render qr image", zap.Error(err), zap.String("code", tok.Code))
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to render QR image"})
				return
			}

			if err := h.tokens.CreateToken(ctx, tok); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create tracking token"})
				return
			}
			created = append(created, tok)
		}
	}

	h.logger.Info("tracking config established",
		zap.String("event_id", eventID.String()),
		zap.Int("teams", len(teams)),
		zap.Int("tokens", len(created)))

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    created,
		"message": "Tracking configuration created",
	})
}

func (h *TrackingHandler) renderImage(tok *models.TrackingToken) error {
	png, err := qrtoken.EncodePNG(tok.Code, h.imageSize)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(h.imageDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.imageDir, tok.ID.String()+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return err
	}
	url := "/api/v1/qrcodes/" + tok.ID.String() + "/image"
	tok.ImageURL = &url
	return nil
}

// ListTeamQRCodes backs the team's running page: its tokens with image
// URLs and scan state.
func (h *TrackingHandler) ListTeamQRCodes(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid team ID format"})
		return
	}

	tokens, err := h.tokens.ListTeamTokens(c.Request.Context(), eventID, teamID)
	if err != nil {
		h.logger.Error("failed to list team tokens", zap.Error(err), zap.String("event_id", eventID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    tokens,
		"message": "QR codes fetched successfully",
	})
}

// GetQRImage serves a token's rendered PNG artifact.
func (h *TrackingHandler) GetQRImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid QR code ID format"})
		return
	}

	if _, err := h.tokens.GetToken(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "QR code not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	path := filepath.Join(h.imageDir, id.String()+".png")
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "QR image not found"})
		return
	}
	c.File(path)
}

// ListScans returns the event's scan log, newest first.
func (h *TrackingHandler) ListScans(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}

	scans, err := h.tokens.ListScans(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("failed to list scans", zap.Error(err), zap.String("event_id", eventID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    scans,
		"count":   len(scans),
		"message": "Scans fetched successfully",
	})
}
