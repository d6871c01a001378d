package handler

import (
	"errors"
	"log"
	"net/http"

	"notesync-server/internal/domain"
	"notesync-server/internal/service"
	"notesync-server/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager     *websocket.Manager
	authService *service.AuthService
	upgrader    ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, authService *service.AuthService, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:     manager,
		authService: authService,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection authenticates the request, upgrades it and hands the
// connection to the manager. A bad or missing token never upgrades.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = "default"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, deviceID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler dispatches inbound channel messages to the
// presence registry and the note services.
type WebSocketMessageHandler struct {
	manager     *websocket.Manager
	noteService *service.NoteService
	detector    *service.ConflictDetector
}

func NewWebSocketMessageHandler(manager *websocket.Manager, noteService *service.NoteService, detector *service.ConflictDetector) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		manager:     manager,
		noteService: noteService,
		detector:    detector,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeRegisterDevice:
		return h.handleRegisterDevice(client, msg)

	case websocket.TypeStartEditing:
		return h.handleStartEditing(client, msg)

	case websocket.TypeStopEditing:
		return h.handleStopEditing(client, msg)

	case websocket.TypeNoteUpdated:
		return h.handleNoteUpdated(client, msg)

	case websocket.TypeConflictDetected:
		return h.handleConflictReport(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleRegisterDevice(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.RegisterDevicePayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}
	if payload.DeviceID == "" {
		return nil
	}

	client.DeviceID = payload.DeviceID
	return nil
}

func (h *WebSocketMessageHandler) handleStartEditing(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.EditingPayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}
	if payload.NoteID == "" {
		return nil
	}

	return h.manager.StartEditing(client, payload.NoteID)
}

func (h *WebSocketMessageHandler) handleStopEditing(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.EditingPayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}
	if payload.NoteID == "" {
		return nil
	}

	return h.manager.StopEditing(client, payload.NoteID)
}

// handleNoteUpdated applies an edit sent over the channel. A divergent edit
// answers the sender with conflict_detected instead of failing the channel.
func (h *WebSocketMessageHandler) handleNoteUpdated(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.NoteUpdatedPayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}
	if payload.NoteID == "" {
		return nil
	}

	h.manager.TouchEditing(payload.NoteID, client.UserID)

	_, err := h.noteService.Update(client.UserID, payload.NoteID, &domain.UpdateNoteRequest{
		Title:         payload.Title,
		Content:       payload.Content,
		DeviceID:      client.DeviceID,
		BaseVersionID: payload.BaseVersionID,
	})
	if err != nil {
		var conflictErr *service.ConflictDetectedError
		if errors.As(err, &conflictErr) {
			reply, merr := websocket.NewMessage(websocket.TypeConflictDetected, websocket.ConflictDetectedPayload{
				NoteID:       payload.NoteID,
				ConflictType: "concurrent_edit",
				DetectedBy:   client.UserID,
			})
			if merr != nil {
				return merr
			}
			h.manager.Send(client, reply)
			return nil
		}
		return err
	}

	return nil
}

// handleConflictReport re-runs detection when a client believes it has
// diverged; the detector broadcasts anything it finds.
func (h *WebSocketMessageHandler) handleConflictReport(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.ConflictDetectedPayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}
	if payload.NoteID == "" {
		return nil
	}

	_, err := h.detector.DetectConflicts(payload.NoteID)
	return err
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pong, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	h.manager.Send(client, pong)
	return nil
}
