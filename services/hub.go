package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"factduel/config"
	"factduel/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Inbound and outbound event names.
const (
	EventEnterQueue  = "enterQueue"
	EventAnswer      = "answer"
	EventEndGame     = "endGame"
	EventPing        = "ping"
	EventWaiting     = "waiting"
	EventMatched     = "matched"
	EventScoreUpdate = "scoreUpdate"
	EventError       = "error"
	EventPong        = "pong"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

const waitingMessage = "Waiting for other user to join the room"

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type WaitingPayload struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}

type MatchedPayload struct {
	OpponentName string `json:"opponentName"`
	RoomID       string `json:"roomId"`
}

type AnswerPayload struct {
	RoomID    string `json:"roomId"`
	IsCorrect bool   `json:"isCorrect"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Hub tracks verified connections and the rooms they joined, and routes
// inbound events to the pairing queue and the duel service.
type Hub struct {
	clients    map[*Client]bool
	byID       map[string]*Client
	rooms      map[string]map[*Client]bool
	lastRoom   map[string]string
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex

	pairing   *PairingQueue
	duels     *DuelService
	directory Directory
}

// Client is one verified websocket connection. room is guarded by the hub
// mutex.
type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	userID string
	room   string
}

func NewHub(pairing *PairingQueue, duels *DuelService, directory Directory) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
		lastRoom:   make(map[string]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		pairing:    pairing,
		duels:      duels,
		directory:  directory,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	h.byID[client.id] = client
	total := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client registered: %s for user %s - Total clients: %d", client.id, client.userID, total)
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.byID, client.id)
	h.leaveRoomLocked(client)
	close(client.send)
	total := len(h.clients)
	h.mutex.Unlock()

	// A waiting player who leaves frees the slot for the next arrival.
	h.pairing.Cancel(client.id)
	log.Printf("Client unregistered: %s for user %s - Total clients: %d", client.id, client.userID, total)
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		h.pairing.Cancel(client.id)
		close(client.send)
	}
	h.clients = make(map[*Client]bool)
	h.byID = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]bool)
	h.lastRoom = make(map[string]string)
}

// RegisterClient adopts an upgraded connection for an already verified user.
// It returns nil once the hub has stopped.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := h.newClient(conn, userID)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
	}
}

// ConnectedClients reports the number of registered connections.
func (h *Hub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) joinRoom(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if client.room == roomID {
		return
	}
	h.leaveRoomLocked(client)
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[roomID] = members
	}
	members[client] = true
	client.room = roomID
	h.lastRoom[client.userID] = roomID
}

func (h *Hub) leaveRoomLocked(client *Client) {
	if client.room == "" {
		return
	}
	if members, ok := h.rooms[client.room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.room)
		}
	}
	client.room = ""
}

func (h *Hub) roomOf(client *Client) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return client.room
}

// duelRoomOf returns the room of client, falling back to the last room any
// connection of the same user joined. A reconnected player thereby keeps
// addressing their duel.
func (h *Hub) duelRoomOf(client *Client) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if client.room != "" {
		return client.room
	}
	return h.lastRoom[client.userID]
}

func (h *Hub) clientByID(id string) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.byID[id]
}

func encode(messageType string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Message{Type: messageType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return nil, false
	}
	return data, true
}

// deliverLocked queues data for client. The caller holds h.mutex (read or
// write), which keeps client.send open for the duration of the send.
func (h *Hub) deliverLocked(client *Client, data []byte) {
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		log.Printf("Client %s (user %s) send buffer full, dropping connection", client.id, client.userID)
		go h.UnregisterClient(client)
	}
}

func (h *Hub) SendToClient(client *Client, messageType string, payload interface{}) {
	data, ok := encode(messageType, payload)
	if !ok {
		return
	}
	h.mutex.RLock()
	h.deliverLocked(client, data)
	h.mutex.RUnlock()
}

func (h *Hub) BroadcastToRoom(roomID, messageType string, payload interface{}) {
	h.sendToRoom(roomID, messageType, payload, func(*Client) bool { return true })
}

func (h *Hub) BroadcastToRoomExcept(roomID, userID, messageType string, payload interface{}) {
	h.sendToRoom(roomID, messageType, payload, func(c *Client) bool { return c.userID != userID })
}

func (h *Hub) SendToRoomMember(roomID, userID, messageType string, payload interface{}) {
	h.sendToRoom(roomID, messageType, payload, func(c *Client) bool { return c.userID == userID })
}

func (h *Hub) sendToRoom(roomID, messageType string, payload interface{}, include func(*Client) bool) {
	data, ok := encode(messageType, payload)
	if !ok {
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sent := 0
	for client := range h.rooms[roomID] {
		if include(client) {
			h.deliverLocked(client, data)
			sent++
		}
	}
	log.Printf("Sent %s to %d client(s) in %s", messageType, sent, roomID)
}

// originBroadcaster delivers the notifications addressed to the mover to
// the connection that sent the event, not to every connection of that user.
type originBroadcaster struct {
	*Hub
	origin *Client
}

func (b originBroadcaster) SendToRoomMember(roomID, userID, messageType string, payload interface{}) {
	if userID == b.origin.userID {
		b.SendToClient(b.origin, messageType, payload)
		return
	}
	b.Hub.SendToRoomMember(roomID, userID, messageType, payload)
}

func (h *Hub) sendError(client *Client, err error) {
	log.Printf("Error handling event for user %s: %v", client.userID, err)
	h.SendToClient(client, EventError, ErrorPayload{Message: ClientMessage(err)})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			c.hub.sendError(c, ErrBadPayload)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage runs on the client's read goroutine, so the events of one
// connection are handled in arrival order.
func (c *Client) handleMessage(msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), config.EventTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case EventPing:
		c.hub.SendToClient(c, EventPong, "pong")

	case EventEnterQueue:
		log.Printf("enterQueue event triggered by user: %s", c.userID)
		err = c.hub.enterQueue(ctx, c)

	case EventAnswer:
		var payload AnswerPayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &payload) != nil || payload.RoomID == "" {
			err = ErrBadPayload
			break
		}
		log.Printf("answer event triggered by user %s in %s (correct=%t)", c.userID, payload.RoomID, payload.IsCorrect)
		err = c.hub.answer(ctx, c, payload)

	case EventEndGame:
		log.Printf("endGame event triggered by user: %s", c.userID)
		err = c.hub.endGame(ctx, c)

	default:
		log.Printf("Unknown message type: %s from user %s", msg.Type, c.userID)
		err = ErrUnknownEvent
	}

	if err != nil {
		c.hub.sendError(c, err)
	}
}

// answer joins the sender to the duel's room before recording, so a player
// answering from a new connection receives the room's notifications.
func (h *Hub) answer(ctx context.Context, client *Client, payload AnswerPayload) error {
	session, err := h.duels.GetSession(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if session.SideOf(client.userID) == models.SideNone {
		return ErrUnknownParticipant
	}
	h.joinRoom(client, payload.RoomID)

	_, err = h.duels.RecordAnswer(ctx, payload.RoomID, client.userID, payload.IsCorrect, originBroadcaster{Hub: h, origin: client})
	return err
}

func (h *Hub) endGame(ctx context.Context, client *Client) error {
	roomID := h.duelRoomOf(client)
	if roomID != "" {
		h.joinRoom(client, roomID)
	}
	_, err := h.duels.EndByRequest(ctx, roomID, client.userID, originBroadcaster{Hub: h, origin: client})
	return err
}

func (h *Hub) enterQueue(ctx context.Context, client *Client) error {
	outcome, err := h.pairing.RequestPairing(client.userID, client.id)
	if err != nil {
		return err
	}

	if !outcome.Matched {
		h.joinRoom(client, outcome.RoomID)
		h.SendToClient(client, EventWaiting, WaitingPayload{Message: waitingMessage, RoomID: outcome.RoomID})
		return nil
	}

	opponent := outcome.Opponent
	if h.clientByID(opponent.Handle) == nil {
		log.Printf("Waiting player %s left before the match in %s, parking %s instead", opponent.UserID, outcome.RoomID, client.userID)
		return h.enterQueue(ctx, client)
	}
	if _, err := h.duels.StartDuel(ctx, outcome.RoomID, opponent.UserID, client.userID); err != nil {
		if h.clientByID(opponent.Handle) != nil && h.pairing.Restore(opponent) {
			log.Printf("Restored waiting player %s to %s after failed pairing", opponent.UserID, opponent.RoomID)
		}
		return err
	}
	h.joinRoom(client, outcome.RoomID)

	myName := displayName(ctx, h.directory, client.userID)
	opponentName := displayName(ctx, h.directory, opponent.UserID)

	if waiting := h.clientByID(opponent.Handle); waiting != nil {
		h.SendToClient(waiting, EventMatched, MatchedPayload{OpponentName: myName, RoomID: outcome.RoomID})
	} else {
		log.Printf("Waiting player %s disconnected during the match in %s", opponent.UserID, outcome.RoomID)
	}
	h.SendToClient(client, EventMatched, MatchedPayload{OpponentName: opponentName, RoomID: outcome.RoomID})
	return nil
}

// Pending reports whether a player is waiting for an opponent.
func (h *Hub) Pending() bool {
	_, ok := h.pairing.Pending()
	return ok
}
