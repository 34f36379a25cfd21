package router

import (
	"net/http"

	"naskahcollab/internal/collab"
	"naskahcollab/internal/collab/repository"
	"naskahcollab/middleware"
	"naskahcollab/socket"
)

// Setup wires the relay, the version archive and the replica status. repo and
// status may be nil, in which case their endpoints are not mounted.
func Setup(hub *socket.Hub, repo *repository.VersionRepository, status collab.StatusSource, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	if repo != nil {
		versionHandler := collab.NewVersionHandler(repo)
		mux.Handle("/api/collab/versions", auth(http.HandlerFunc(versionHandler.ListVersions)))
		mux.Handle("/api/collab/versions/get", auth(http.HandlerFunc(versionHandler.GetVersion)))
	}
	if status != nil {
		statusHandler := collab.NewStatusHandler(status)
		mux.Handle("/api/collab/status", auth(http.HandlerFunc(statusHandler.Status)))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return middleware.CORSMiddleware(mux)
}
