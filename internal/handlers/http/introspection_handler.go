package http

import (
	"net/http"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
	"meetsfu/pkg/errors"

	"github.com/gin-gonic/gin"
)

// IntrospectionHandler serves the read-only view over workers, rooms and
// media handles.
type IntrospectionHandler struct {
	introspection ports.IntrospectionService
}

func NewIntrospectionHandler(introspection ports.IntrospectionService) *IntrospectionHandler {
	return &IntrospectionHandler{introspection: introspection}
}

// SetupRoutes mounts the endpoints under group, e.g. /api/v1/introspection.
func (h *IntrospectionHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/workers", h.Workers)
	group.GET("/counts", h.Counts)
	group.GET("/rooms", h.Rooms)
	group.GET("/rooms/:id", h.Room)
	group.GET("/handles/:kind", h.List)
	group.GET("/handles/:kind/:id", h.Dump)
	group.GET("/handles/:kind/:id/stats", h.Stats)
}

func (h *IntrospectionHandler) Workers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.introspection.Workers()})
}

func (h *IntrospectionHandler) Counts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counts": h.introspection.Counts()})
}

func (h *IntrospectionHandler) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.introspection.Rooms()})
}

func (h *IntrospectionHandler) Room(c *gin.Context) {
	room, err := h.introspection.Room(domain.RoomID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func handleKind(c *gin.Context) (domain.HandleKind, bool) {
	kind, ok := domain.ParseHandleKind(c.Param("kind"))
	if !ok {
		c.Error(errors.NewInvalidInputError("unknown handle kind").WithContext("kind", c.Param("kind")))
		return "", false
	}
	return kind, true
}

func (h *IntrospectionHandler) List(c *gin.Context) {
	kind, ok := handleKind(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "ids": h.introspection.List(kind)})
}

// Dump returns the handle's dump. The id "latest" selects the most recently
// created handle of the kind.
func (h *IntrospectionHandler) Dump(c *gin.Context) {
	kind, ok := handleKind(c)
	if !ok {
		return
	}
	dump, err := h.introspection.Dump(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dump)
}

func (h *IntrospectionHandler) Stats(c *gin.Context) {
	kind, ok := handleKind(c)
	if !ok {
		return
	}
	stats, err := h.introspection.Stats(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
