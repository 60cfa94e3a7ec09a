package handlers

import (
	"errors"
	"log"
	"net/http"

	"factduel/middleware"
	"factduel/models"
	"factduel/services"

	"github.com/gin-gonic/gin"
)

type DuelHandler struct {
	duelService *services.DuelService
	ledger      services.ScoreLedger
	hub         *services.Hub
}

func NewDuelHandler(duelService *services.DuelService, ledger services.ScoreLedger, hub *services.Hub) *DuelHandler {
	return &DuelHandler{
		duelService: duelService,
		ledger:      ledger,
		hub:         hub,
	}
}

type ScoresResponse struct {
	Player1Score int `json:"player1Score"`
	Player2Score int `json:"player2Score"`
}

// GetScores is public so spectators and result screens can poll it.
func (h *DuelHandler) GetScores(c *gin.Context) {
	session, err := h.duelService.GetSession(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoresResponse{
		Player1Score: session.Player1Score,
		Player2Score: session.Player2Score,
	})
}

func (h *DuelHandler) GetDuel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.duelService.GetSession(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if session.SideOf(userID) == models.SideNone {
		respondError(c, services.ErrUnknownParticipant)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *DuelHandler) GetLedger(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	roomID := c.Param("roomId")
	session, err := h.duelService.GetSession(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if session.SideOf(userID) == models.SideNone {
		respondError(c, services.ErrUnknownParticipant)
		return
	}

	entries, err := h.ledger.ListRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// EndDuel ends the duel on behalf of the authenticated player. Connected
// players get the same endGame notification as for an in-band request.
func (h *DuelHandler) EndDuel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var hub services.Broadcaster
	if h.hub != nil {
		hub = h.hub
	}

	result, err := h.duelService.EndByRequest(c.Request.Context(), c.Param("roomId"), userID, hub)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *DuelHandler) GetMatchmaking(c *gin.Context) {
	waiting := false
	if h.hub != nil {
		waiting = h.hub.Pending()
	}
	c.JSON(http.StatusOK, gin.H{"waiting": waiting})
}

func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}
	return userID, true
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrUnknownParticipant):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrSessionAlreadyCompleted):
		status = http.StatusConflict
	case errors.Is(err, services.ErrNotInDuel), errors.Is(err, services.ErrBadPayload):
		status = http.StatusBadRequest
	default:
		log.Printf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	c.JSON(status, gin.H{"error": services.ClientMessage(err)})
}
