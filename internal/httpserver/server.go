package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}

// NewMetrics serves the default Prometheus registry on its own listener.
func NewMetrics(addr string) *http.Server {
	m := mux.NewRouter()
	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &http.Server{Addr: addr, Handler: m}
}
