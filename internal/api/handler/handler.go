package handler

import (
	"context"
	"net/http"
	"slices"

	"matchgogo/backend/internal/auth"
	"matchgogo/backend/internal/chathub"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type BanChecker interface {
	IsBanned(ctx context.Context, identity string) (bool, error)
}

type MatchLister interface {
	ListMatches(ctx context.Context, identity string) ([]models.Match, error)
}

type CallReader interface {
	Get(ctx context.Context, id string) (models.CallSession, error)
}

type HistoryReader interface {
	History(ctx context.Context, a, b string, limit int) ([]models.ChatMessage, error)
}

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Auth           *auth.Authenticator
	Registry       *chathub.Registry
	Dispatcher     chathub.Dispatcher
	Bans           BanChecker
	Matches        MatchLister
	Interests      chathub.InterestRecorder
	Calls          CallReader
	Chat           HistoryReader
	AllowAnonymous bool
	AllowOrigins   []string
	Log            *zap.Logger
}

// Handler містить залежності HTTP та WebSocket маршрутів
type Handler struct {
	Deps
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{Deps: deps, log: logging.OrNop(deps.Log)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	if h.AllowAnonymous {
		r.GET("/anonid", h.GetAnonID) // JWT для анонімного ID, лише для розробки
	}
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", h.RequireIdentity())
	api.POST("/interests", h.RecordInterest)
	api.GET("/matches", h.ListMatches)
	api.GET("/calls/:id", h.GetCall)
	api.GET("/messages/:peer", h.ListMessages)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Registry.Count(),
	})
}

// Порожній список або "*" дозволяє будь-яке джерело
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.AllowOrigins) == 0 || slices.Contains(h.AllowOrigins, "*") {
		return true
	}
	return slices.Contains(h.AllowOrigins, r.Header.Get("Origin"))
}
