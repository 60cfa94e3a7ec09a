package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"factduel/handlers"
	"factduel/models"
	"factduel/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "routes-test-secret"

type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "routes.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ScoreLedgerEntry{}))
	require.NoError(t, db.Create(&[]models.User{
		{ID: "x", Email: "x@example.com", FirstName: "Xena"},
		{ID: "y", Email: "y@example.com", FirstName: "Yuri"},
	}).Error)

	directory := services.NewUserDirectory(db)
	ledger := services.NewGormScoreLedger(db)
	duels := services.NewDuelService(services.NewRedisSessionStore(client, 0), ledger, directory, 10)
	hub := services.NewHub(services.NewPairingQueue(), duels, directory)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	SetupRoutes(router, handlers.NewDuelHandler(duels, ledger, hub), hub, services.NewJWTVerifier(testSecret), []string{"*"})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, messageType string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": messageType, "payload": payload}))
}

func expect(t *testing.T, conn *websocket.Conn, messageType string, into interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, messageType, ev.Type, "payload: %s", ev.Payload)
	if into != nil {
		require.NoError(t, json.Unmarshal(ev.Payload, into))
	}
}

func TestDuelOverWebSocket(t *testing.T) {
	srv := newTestServer(t)
	x := dial(t, srv, "x")
	y := dial(t, srv, "y")

	emit(t, x, services.EventEnterQueue, nil)
	var waiting services.WaitingPayload
	expect(t, x, services.EventWaiting, &waiting)
	require.NotEmpty(t, waiting.RoomID)

	emit(t, y, services.EventEnterQueue, nil)
	var matchedX, matchedY services.MatchedPayload
	expect(t, x, services.EventMatched, &matchedX)
	expect(t, y, services.EventMatched, &matchedY)
	assert.Equal(t, services.MatchedPayload{OpponentName: "Yuri", RoomID: waiting.RoomID}, matchedX)
	assert.Equal(t, services.MatchedPayload{OpponentName: "Xena", RoomID: waiting.RoomID}, matchedY)

	emit(t, x, services.EventAnswer, services.AnswerPayload{RoomID: waiting.RoomID, IsCorrect: true})
	var mine services.YourScorePayload
	var theirs services.OpponentScorePayload
	expect(t, x, services.EventScoreUpdate, &mine)
	expect(t, y, services.EventScoreUpdate, &theirs)
	assert.Equal(t, 1, mine.YourScore)
	assert.Equal(t, 1, theirs.OpponentScore)

	resp, err := http.Get(srv.URL + "/api/duels/" + waiting.RoomID + "/scores")
	require.NoError(t, err)
	var scores handlers.ScoresResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scores))
	resp.Body.Close()
	assert.Equal(t, handlers.ScoresResponse{Player1Score: 1, Player2Score: 0}, scores)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/duels/"+waiting.RoomID+"/end", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "y"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var endX, endY services.EndGameResult
	expect(t, x, services.EventEndGame, &endX)
	expect(t, y, services.EventEndGame, &endY)
	assert.Equal(t, "Xena", endX.Winner)
	assert.Equal(t, endX, endY)
}

func TestWebSocketRejectsBadCredential(t *testing.T) {
	srv := newTestServer(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	for _, url := range []string{base, base + "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestWebSocketAcceptsBearerHeader(t *testing.T) {
	srv := newTestServer(t)
	header := http.Header{"Authorization": []string{"Bearer " + token(t, "x")}}

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	emit(t, conn, services.EventPing, nil)
	expect(t, conn, services.EventPong, nil)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/matchmaking")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/matchmaking", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "x"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
