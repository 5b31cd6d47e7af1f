package router

import (
	"database/sql"
	"net/http"

	"codraft/internal/activity"
	"codraft/internal/config"
	docHandler "codraft/internal/document"
	"codraft/internal/document/repository"
	"codraft/internal/document/service"
	"codraft/middleware"
	"codraft/socket"

	"github.com/gorilla/mux"
)

func Setup(cfg *config.Config, db *sql.DB, hub *socket.Hub) http.Handler {
	r := mux.NewRouter()
	auth := middleware.Auth(cfg.JWT.Secret)

	// WebSocket change feed
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID := req.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, w, req, userID)
	})
	r.Handle("/ws", auth(wsHandler))

	// REST API
	docRepo := repository.NewDocumentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	recorder := activity.NewRecorder(activityRepo)
	docService := service.NewDocumentService(docRepo, recorder, hub)
	h := docHandler.NewDocumentHandler(docService)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.HandleFunc("/documents", h.CreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/save", h.SaveDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/title", h.RenameDocument).Methods(http.MethodPut)
	api.HandleFunc("/documents/{id}/share", h.ShareDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/activity", h.ListActivity).Methods(http.MethodGet)

	return middleware.CORSMiddleware(r)
}
