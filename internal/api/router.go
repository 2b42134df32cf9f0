package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/config"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/middleware"
)

// chiMiddleware adapts an http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler shape, mirroring the teacher's own
// chi_router.go helper of the same name.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter builds the chi.Router for the daemon's full HTTP surface. wsUpgrade
// handles GET /api/ws (internal/wstransport owns the actual upgrade).
func NewRouter(h *Handler, cfg *config.Config, wsUpgrade http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

	r.Get("/api/health", h.HealthStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/ws", wsUpgrade)

	r.Route("/api/playlists", func(r chi.Router) {
		r.Get("/", h.ListPlaylists)
		r.Post("/", h.CreatePlaylist)
		r.Post("/move-track", h.MoveTrack)
		r.Get("/{id}", h.GetPlaylist)
		r.Put("/{id}", h.UpdatePlaylist)
		r.Delete("/{id}", h.DeletePlaylist)
		r.Post("/{id}/start", h.StartPlaylist)
		r.Post("/{id}/reorder", h.ReorderTracks)
		r.Delete("/{id}/tracks", h.DeleteTracks)

		r.With(httprate.Limit(cfg.RateLimit.UploadsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/{id}/uploads/session", h.CreateUploadSession)

		r.With(httprate.Limit(cfg.RateLimit.UploadsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Put("/{id}/uploads/{sid}/chunks/{n}", h.UploadChunk)

		r.Post("/{id}/uploads/{sid}/finalize", h.FinalizeUpload)
		r.Get("/{id}/uploads/{sid}", h.GetUploadStatus)
		r.Delete("/{id}/uploads/{sid}", h.CancelUpload)
	})

	r.Route("/api/nfc", func(r chi.Router) {
		r.Get("/status", h.NfcStatus)
		r.With(httprate.Limit(cfg.RateLimit.NfcPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/associate", h.AssociateNfc)
		r.Delete("/associate/{tag_id}", h.DissociateNfcTag)

		// Additive beyond spec §6.2: WebSocket-parity HTTP fallbacks for
		// resolving an in-progress duplicate_detected association (spec
		// §6.1's override_nfc_tag/stop_nfc_link), scoped by association_id.
		r.Route("/associations/{id}", func(r chi.Router) {
			r.Post("/override", h.OverrideNfcAssociation)
			r.Delete("/", h.CancelNfcAssociation)
		})
	})

	r.Route("/api/player", func(r chi.Router) {
		r.Get("/status", h.PlayerStatus)
		r.Post("/play", h.Play)
		r.Post("/pause", h.Pause)
		r.Post("/toggle", h.Toggle)
		r.Post("/stop", h.Stop)
		r.Post("/next", h.Next)
		r.Post("/previous", h.Previous)
		r.Post("/mute", h.Mute)
		r.Post("/unmute", h.Unmute)
		r.Post("/seek", h.Seek)
		r.Post("/volume", h.SetVolume)
		r.Post("/repeat", h.SetRepeatMode)
		r.Post("/shuffle", h.SetShuffle)
	})

	r.Post("/api/sync", h.Resync)

	return r
}
