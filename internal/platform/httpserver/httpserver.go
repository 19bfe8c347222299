// Package httpserver builds the process HTTP server with the timeouts this
// service needs.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server. The write timeout leaves headroom for proof-of-work
// sealing on the mutation path: at the shipped difficulty a mint settles in
// milliseconds, but the difficulty is operator-tunable. Request bodies are
// small JSON documents, so the read timeout stays tight.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}
