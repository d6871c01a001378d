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

type SyncHandler struct {
	syncService   *service.SyncService
	detector      *service.ConflictDetector
	resolver      *service.ConflictResolver
	validate      *validator.Validate
	retentionDays int
}

func NewSyncHandler(syncService *service.SyncService, detector *service.ConflictDetector, resolver *service.ConflictResolver, retentionDays int) *SyncHandler {
	return &SyncHandler{
		syncService:   syncService,
		detector:      detector,
		resolver:      resolver,
		validate:      validator.New(),
		retentionDays: retentionDays,
	}
}

// OfflineEdit records an edit made while disconnected: a pending version
// plus a queue item, synchronized on the next queue pass.
func (h *SyncHandler) OfflineEdit(w http.ResponseWriter, r *http.Request) {
	var req domain.OfflineEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	version, err := h.syncService.SaveOfflineEdit(req.NoteID, userID, req.Title, req.Content, req.DeviceID, req.BaseVersionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, version.ToResponse())
}

func (h *SyncHandler) Process(w http.ResponseWriter, r *http.Request) {
	if err := h.syncService.ProcessSyncQueue(); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Sync queue processed"})
}

func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["noteId"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.syncService.ForceSyncNote(noteID, userID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Note sync forced"})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	status, err := h.syncService.GetSyncStatus(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, status)
}

func (h *SyncHandler) PendingConflicts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	conflicts, err := h.detector.GetPendingConflicts(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, conflicts)
}

func (h *SyncHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	suggestions, err := h.resolver.GetResolutionSuggestions(conflictID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, suggestions)
}

func (h *SyncHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.resolver.ResolveConflict(conflictID, req.Resolution, req.MergeData, userID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"message": "Conflict resolved"})
}

func (h *SyncHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	maxAgeDays := h.retentionDays
	if raw := r.URL.Query().Get("max_age_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.BadRequest(w, "Invalid max_age_days")
			return
		}
		maxAgeDays = parsed
	}

	purged, err := h.syncService.CleanupSyncHistory(maxAgeDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]int{"purged": purged})
}
