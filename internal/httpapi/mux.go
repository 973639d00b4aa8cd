package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(store Store) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, store)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
