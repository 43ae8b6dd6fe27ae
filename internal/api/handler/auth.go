package handler

import (
	"net/http"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const identityKey = "identity"

// GetAnonID створює анонімну ідентичність та повертає JWT
func (h *Handler) GetAnonID(c *gin.Context) {
	anonID := uuid.NewString()

	token, err := h.Auth.Issue(anonID)
	if err != nil {
		h.log.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// RequireIdentity verifies the bearer token and rejects banned identities.
func (h *Handler) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := auth.BearerToken(c.GetHeader("Authorization"))
		identity, err := h.authenticate(c, token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// authenticate turns a token into an identity that is allowed to connect.
func (h *Handler) authenticate(c *gin.Context, token string) (string, error) {
	identity, err := h.Auth.Verify(token)
	if err != nil {
		return "", err
	}
	banned, err := h.Bans.IsBanned(c.Request.Context(), identity)
	if err != nil {
		h.log.Error("ban lookup", zap.String("identity", identity), zap.Error(err))
		return "", apperr.Storage("ban lookup", err)
	}
	if banned {
		return "", apperr.Unauthenticated("identity is banned", nil)
	}
	return identity, nil
}

func identityFrom(c *gin.Context) string {
	return c.GetString(identityKey)
}

func writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(code), gin.H{
		"error": apperr.Message(err),
		"code":  code,
	})
}
