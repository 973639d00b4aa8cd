package httpapi

import (
	"net/http"
	"time"

	"scalelog/internal/config"
)

func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           Wrap(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      config.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
