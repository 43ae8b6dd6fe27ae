package handler

import (
	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/auth"
	"matchgogo/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket. Токен приймається із
// заголовка Authorization або з параметра token (браузери не можуть
// встановити заголовок для WebSocket).
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		writeError(c, apperr.Unauthenticated("Authorization token missing", nil))
		return
	}

	// Ідентичність перевіряється до апгрейду: неавтентифіковане з'єднання
	// ніколи не потрапляє в реєстр
	identity, err := h.authenticate(c, token)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade вже відповів клієнту
		h.log.Warn("websocket upgrade failed", zap.String("identity", identity), zap.Error(err))
		return
	}

	client := chathub.NewWebSocketClient(identity, conn, h.Registry, h.Dispatcher, h.log)
	if err := h.Registry.Register(client); err != nil {
		h.log.Error("register connection", zap.String("identity", identity), zap.Error(err))
		conn.Close()
		return
	}
	h.log.Info("websocket connected",
		zap.String("identity", identity),
		zap.String("connection", client.GetConnectionID()))

	client.Run()
}
