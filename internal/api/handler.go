package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/config"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/inquiry"
	"lpbf-planner/internal/nesting"
	"lpbf-planner/internal/store"
)

// Dispatcher re-queues notification outbox rows.
type Dispatcher interface {
	Dispatch(requestIDs ...uint)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	intake     *inquiry.Service
	engine     *nesting.Engine
	dispatcher Dispatcher
	machines   []config.MachineConfig
	webpush    *webpush.Options
}

// Deps are the services the handlers call.
type Deps struct {
	Store      store.Store
	Intake     *inquiry.Service
	Engine     *nesting.Engine
	Dispatcher Dispatcher
	Machines   []config.MachineConfig
	WebPush    *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:      d.Store,
		intake:     d.Intake,
		engine:     d.Engine,
		dispatcher: d.Dispatcher,
		machines:   d.Machines,
		webpush:    d.WebPush,
	}
}

// statusOf maps error kinds to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInvalidState),
		errors.Is(err, errs.ErrIllegalTransition),
		errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrExternalService):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func optionalID(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	v := uint(id)
	return &v, true
}
