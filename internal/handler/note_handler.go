package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"notesync-server/internal/domain"
	"notesync-server/internal/middleware"
	"notesync-server/internal/service"
	"notesync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type NoteHandler struct {
	service  *service.NoteService
	validate *validator.Validate
}

func NewNoteHandler(service *service.NoteService) *NoteHandler {
	return &NoteHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	note, err := h.service.Create(userID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	notes, err := h.service.List(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	note, err := h.service.Get(userID, noteID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, note)
}

// Update runs the edit through version creation and conflict detection; a
// divergent edit comes back as 409 with the pending conflicts attached.
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	var req domain.UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	note, err := h.service.Update(userID, noteID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Delete(userID, noteID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Note deleted successfully"})
}

func (h *NoteHandler) Versions(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	versions, err := h.service.Versions(userID, noteID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, versions)
}

func (h *NoteHandler) History(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "Invalid limit")
			return
		}
		limit = parsed
	}

	userID := middleware.GetUserID(r)

	entries, err := h.service.History(userID, noteID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, entries)
}

func (h *NoteHandler) Share(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	var req domain.GrantShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Share(userID, noteID, req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Note shared successfully"})
}

func (h *NoteHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	noteID := vars["id"]
	collaboratorID := vars["userId"]
	if noteID == "" || collaboratorID == "" {
		response.BadRequest(w, "Note ID and user ID are required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Unshare(userID, noteID, collaboratorID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Share revoked successfully"})
}
