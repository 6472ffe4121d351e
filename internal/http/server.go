// README: HTTP server construction; CORS wraps the router.
package http

import (
	"net/http"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
)

// NewServer wraps handler with CORS for allowedOrigins and returns an unstarted server.
func NewServer(addr string, allowedOrigins []string, handler http.Handler) *http.Server {
	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(allowedOrigins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
		gorillahandlers.ExposedHeaders([]string{"X-Request-ID", "Content-Disposition"}),
	)
	return &http.Server{
		Addr:              addr,
		Handler:           cors(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
