package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ctxKey int

const sessionIDKey ctxKey = iota

// SessionMiddleware pulls the shopper's session ID from the X-Session-ID
// header into the request context.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sessionIDKey, r.Header.Get("X-Session-ID"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// NewRouter wires the cart API onto a chi router.
func NewRouter(h *CartHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(SessionMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Get("/summary", h.GetSummary)
			r.Post("/items", h.AddItem)
			r.Put("/items/{line_id}", h.UpdateQuantity)
			r.Delete("/items/{line_id}", h.RemoveItem)
			r.Post("/undo", h.Undo)
			r.Post("/redo", h.Redo)
			r.Post("/sync", h.Sync)
			r.Post("/validate", h.Validate)
			r.Post("/reserve", h.Reserve)
			r.Post("/release", h.Release)
		})
		r.Post("/designs/export", h.ExportDesign)
		r.Post("/auth/login", h.Login)
	})

	return otelhttp.NewHandler(r, "cartcore")
}
