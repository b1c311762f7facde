package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"attendance-kiosk/internal/kiosk"
	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/retryqueue"
)

// HealthChecker probes the remote attendance API.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	kiosk   *kiosk.Service
	queue   *retryqueue.Queue
	remote  HealthChecker
	db      *gorm.DB
	webpush *webpush.Options
	log     logrus.FieldLogger
}

// NewHandler creates a new API handler. webpushOptions is nil when push
// notifications are not configured.
func NewHandler(svc *kiosk.Service, q *retryqueue.Queue, hc HealthChecker, db *gorm.DB, webpushOptions *webpush.Options, log logrus.FieldLogger) *Handler {
	return &Handler{
		kiosk:   svc,
		queue:   q,
		remote:  hc,
		db:      db,
		webpush: webpushOptions,
		log:     log.WithField("component", "api"),
	}
}

// scanErrorStatus maps a failed scan to the status returned to the UI.
func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, kiosk.ErrInvalidTag),
		errors.Is(err, kiosk.ErrInvalidAction),
		errors.Is(err, kiosk.ErrMissingPin):
		return http.StatusBadRequest
	}

	switch remote.KindOf(err) {
	case remote.KindNotFound:
		return http.StatusNotFound
	case remote.KindUnauthorized:
		return http.StatusUnauthorized
	case remote.KindForbidden:
		return http.StatusForbidden
	case remote.KindLocked:
		return http.StatusLocked
	case remote.KindBadRequest:
		return http.StatusUnprocessableEntity
	case "":
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func abortWithError(c *gin.Context, status int, err error) {
	body := gin.H{"error": err.Error()}
	if kind := remote.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	c.AbortWithStatusJSON(status, body)
}
