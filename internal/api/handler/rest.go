package handler

import (
	"net/http"
	"strconv"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type interestBody struct {
	To string `json:"to" binding:"required"`
}

// RecordInterest is the HTTP twin of the interest:record websocket request.
func (h *Handler) RecordInterest(c *gin.Context) {
	var body interestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperr.InvalidArg("body must be {\"to\": \"<identity>\"}"))
		return
	}

	res, err := h.Interests.RecordInterestWithRetry(c.Request.Context(), identityFrom(c), body.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListMatches(c *gin.Context) {
	matches, err := h.Matches.ListMatches(c.Request.Context(), identityFrom(c))
	if err != nil {
		writeError(c, apperr.Storage("list matches", err))
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// GetCall shows a session to its participants. Others get 404 so session
// ids cannot be probed.
func (h *Handler) GetCall(c *gin.Context) {
	session, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !session.IsParticipant(identityFrom(c)) {
		writeError(c, apperr.NotFound("call "+c.Param("id")+" not found"))
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) ListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, apperr.InvalidArg("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	msgs, err := h.Chat.History(c.Request.Context(), identityFrom(c), c.Param("peer"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
