package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"codraft/internal/document/model"
	"codraft/internal/document/service"
	"codraft/internal/errs"
	"codraft/middleware"
	"codraft/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DocumentHandler struct {
	Service  *service.DocumentService
	validate *validator.Validate
}

func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{Service: svc, validate: validator.New()}
}

func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	var req model.CreateDocRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Empty body is fine, title defaults

	doc, err := h.Service.CreateDocument(userID, req.Title)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create document: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateDocResponse{DocID: doc.ID, UpdatedAt: doc.UpdatedAt})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	doc, err := h.Service.LoadDocument(docID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// SaveDocument is the compare-and-swap save endpoint; a stale
// expected_updated_at comes back as 409.
func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	var req model.SaveDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "expected_updated_at is required", http.StatusBadRequest)
		return
	}

	changes := model.SaveChanges{Title: req.Title, Content: req.Content, Visibility: req.Visibility}
	newUpdatedAt, err := h.Service.SaveDocument(docID, userID, changes, req.ExpectedUpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Error saving document %s: %v", docID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.SaveDocResponse{UpdatedAt: newUpdatedAt})
}

func (h *DocumentHandler) RenameDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	var req model.RenameDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}

	changes := model.SaveChanges{Title: &req.Title}
	newUpdatedAt, err := h.Service.SaveDocument(docID, userID, changes, req.ExpectedUpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Error renaming document %s: %v", docID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.SaveDocResponse{UpdatedAt: newUpdatedAt})
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	if err := h.Service.DeleteDocument(docID, userID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete document %s: %v", docID, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ShareDocument(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	var req model.ShareDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "user_id and a valid permission are required", http.StatusBadRequest)
		return
	}

	if err := h.Service.AddCollaborator(docID, userID, req.UserID, req.Permission); err != nil {
		logger.Sugar.Errorf("Handler: Failed to share document %s: %v", docID, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := mux.Vars(r)["id"]

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.Service.ListActivity(docID, userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "Document not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrAccessDenied):
		http.Error(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, errs.ErrStaleWrite):
		http.Error(w, "Document was modified by someone else", http.StatusConflict)
	case errors.Is(err, errs.ErrInvalid):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
