package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/game"
	"quiz-room-service/internal/room"
)

// Handler upgrades HTTP requests to websockets and wires each connection
// through the gate into the room and game use cases.
type Handler struct {
	gate     *auth.Gate
	registry *room.Registry
	orch     *game.Orchestrator
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(gate *auth.Gate, registry *room.Registry, orch *game.Orchestrator, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{
		gate:     gate,
		registry: registry,
		orch:     orch,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// client is one websocket connection and its per-connection state. The state
// is only touched from the connection's own read loop.
type client struct {
	conn *websocket.Conn
	send chan game.Event

	participantID string
	displayName   string
	roomCode      string

	closeOnce sync.Once
}

// enqueue hands an event to the writer goroutine without ever blocking the
// broadcaster; a slow client loses its oldest queued event instead.
func (c *client) enqueue(event game.Event) {
	select {
	case c.send <- event:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type createRoomPayload struct {
	QuizID   string              `json:"quizId"`
	Settings domain.RoomSettings `json:"settings"`
}

type joinRoomPayload struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

type startGamePayload struct {
	Code string `json:"code"`
}

type submitAnswerPayload struct {
	Code           string `json:"code"`
	QuestionIndex  int    `json:"questionIndex"`
	Selection      *int   `json:"selection"`
	ResponseTimeMs int    `json:"responseTimeMs"`
}

type authenticatedPayload struct {
	ParticipantID string `json:"participantId"`
}

type roomCreatedPayload struct {
	Code string `json:"code"`
}

type roomJoinedPayload struct {
	Room   domain.RoomSnapshot `json:"room"`
	IsHost bool                `json:"isHost"`
}

type answerSubmittedPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServeWS runs one connection: authenticate first, then room operations.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan game.Event, 32)}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for event := range c.send {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	h.readLoop(r, c)

	// Edge-triggered disconnect: runs once, when the read loop exits.
	if c.roomCode != "" {
		h.hub.remove(c.roomCode, c)
		h.orch.HandleDisconnect(c.roomCode, c.participantID)
	}
	c.closeSend()
	<-writerDone
	_ = conn.Close()
}

func (h *Handler) readLoop(r *http.Request, c *client) {
	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			return
		}

		if inbound.Type == "authenticate" {
			h.handleAuthenticate(c, inbound.Payload)
			continue
		}
		if c.participantID == "" {
			h.sendError(c, domain.ErrNotAuthenticated)
			continue
		}

		switch inbound.Type {
		case "create_room":
			h.handleCreateRoom(r, c, inbound.Payload)
		case "join_room":
			h.handleJoinRoom(c, inbound.Payload)
		case "start_game":
			h.handleStartGame(r, c, inbound.Payload)
		case "submit_answer":
			h.handleSubmitAnswer(c, inbound.Payload)
		default:
			c.enqueue(game.Event{Type: "error", Payload: errorPayload{
				Kind:    string(domain.KindState),
				Message: "unsupported message type",
			}})
		}
	}
}

func (h *Handler) handleAuthenticate(c *client, raw json.RawMessage) {
	var payload authenticatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.enqueue(game.Event{Type: "auth_error", Payload: errorPayload{
			Kind:    string(domain.KindAuth),
			Message: "invalid authenticate payload",
		}})
		return
	}
	participantID, err := h.gate.Authenticate(payload.Token)
	if err != nil {
		c.enqueue(game.Event{Type: "auth_error", Payload: errorPayload{
			Kind:    string(domain.Kind(err)),
			Message: err.Error(),
		}})
		return
	}
	c.participantID = participantID
	c.enqueue(game.Event{Type: "authenticated", Payload: authenticatedPayload{ParticipantID: participantID}})
}

func (h *Handler) handleCreateRoom(r *http.Request, c *client, raw json.RawMessage) {
	var payload createRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendInvalidPayload(c)
		return
	}
	code, err := h.registry.Create(r.Context(), payload.QuizID, c.participantID, payload.Settings)
	if err != nil {
		h.sendError(c, err)
		return
	}

	// The host is a member from creation, so the connection is bound to the
	// room right away; join_room is only needed to set a display name.
	if c.roomCode != "" && c.roomCode != code {
		h.hub.remove(c.roomCode, c)
	}
	c.roomCode = code
	h.hub.add(code, c)

	h.log.Info().Str("room", code).Str("quiz", payload.QuizID).Str("host", c.participantID).Msg("room created")
	c.enqueue(game.Event{Type: "room_created", Payload: roomCreatedPayload{Code: code}})
}

func (h *Handler) handleJoinRoom(c *client, raw json.RawMessage) {
	var payload joinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" || payload.DisplayName == "" {
		h.sendInvalidPayload(c)
		return
	}
	code := room.NormalizeCode(payload.Code)
	snap, err := h.registry.Join(code, c.participantID, payload.DisplayName)
	if err != nil {
		h.sendError(c, err)
		return
	}

	if c.roomCode != "" && c.roomCode != code {
		h.hub.remove(c.roomCode, c)
	}
	c.roomCode = code
	c.displayName = payload.DisplayName
	h.hub.add(code, c)

	c.enqueue(game.Event{Type: "room_joined", Payload: roomJoinedPayload{
		Room:   snap,
		IsHost: snap.HostID == c.participantID,
	}})
	h.hub.broadcastExcept(code, c, game.Event{Type: game.EventPlayerJoined, Payload: game.PlayerJoinedPayload{
		ParticipantID: c.participantID,
		DisplayName:   payload.DisplayName,
		Members:       snap.Members,
	}})
}

func (h *Handler) handleStartGame(r *http.Request, c *client, raw json.RawMessage) {
	var payload startGamePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		h.sendInvalidPayload(c)
		return
	}
	if err := h.orch.Start(r.Context(), payload.Code, c.participantID); err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) handleSubmitAnswer(c *client, raw json.RawMessage) {
	var payload submitAnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		h.sendInvalidPayload(c)
		return
	}
	err := h.orch.SubmitAnswer(payload.Code, c.participantID, payload.QuestionIndex, payload.Selection, payload.ResponseTimeMs)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.enqueue(game.Event{Type: "answer_submitted", Payload: answerSubmittedPayload{
		QuestionIndex: payload.QuestionIndex,
	}})
}

// sendError surfaces a failure only to the originating connection; errors are
// never broadcast room-wide.
func (h *Handler) sendError(c *client, err error) {
	c.enqueue(game.Event{Type: "error", Payload: errorPayload{
		Kind:    string(domain.Kind(err)),
		Message: err.Error(),
	}})
}

func (h *Handler) sendInvalidPayload(c *client) {
	c.enqueue(game.Event{Type: "error", Payload: errorPayload{
		Kind:    string(domain.KindState),
		Message: "invalid payload",
	}})
}
