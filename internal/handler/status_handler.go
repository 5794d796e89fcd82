package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/syncengine"
)

const keepAliveInterval = 30 * time.Second

// StatusHandler exposes the sync indicator and a live change stream.
type StatusHandler struct {
	engine *syncengine.Engine
	store  *localcache.Store
	log    zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(engine *syncengine.Engine, store *localcache.Store, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		engine: engine,
		store:  store,
		log:    log.With().Str("component", "status_handler").Logger(),
	}
}

// GetStatus godoc
// GET /api/v1/status
func (h *StatusHandler) GetStatus(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"sync":        h.engine.Status(),
		"origin":      h.engine.Origin(),
		"cache_bytes": h.store.Size(),
	})
}

// SyncNow godoc
// POST /api/v1/status/sync
// Pulls and reconciles every collection immediately.
func (h *StatusHandler) SyncNow(c *gin.Context) {
	if err := h.engine.PullNow(c.Request.Context()); err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sync": h.engine.Status()})
}

type streamEvent struct {
	Type       string                 `json:"type"`
	Status     *syncengine.StatusInfo `json:"status,omitempty"`
	Collection model.Collection       `json:"collection,omitempty"`
	UpdatedAt  int64                  `json:"updated_at,omitempty"`
	Origin     localcache.Origin      `json:"origin,omitempty"`
}

// Events godoc
// GET /api/v1/events
// Server-sent events: the current status, then every status change and
// every collection write on this desk.
func (h *StatusHandler) Events(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := make(chan streamEvent, 64)
	push := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
			// Slow reader; it will resync from the next event.
		}
	}

	removeStatus := h.engine.OnStatus(func(st syncengine.StatusInfo) {
		push(streamEvent{Type: "status", Status: &st})
	})
	defer removeStatus()
	removeChange := h.store.OnChange(func(ch localcache.Change) {
		push(streamEvent{Type: "change", Collection: ch.Collection, UpdatedAt: ch.UpdatedAt, Origin: ch.Origin})
	})
	defer removeChange()

	st := h.engine.Status()
	h.write(c, streamEvent{Type: "status", Status: &st})

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return
		case ev := <-events:
			h.write(c, ev)
		case <-keepAlive.C:
			h.write(c, streamEvent{Type: "ping"})
		}
	}
}

func (h *StatusHandler) write(c *gin.Context, ev streamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("Encode event")
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
