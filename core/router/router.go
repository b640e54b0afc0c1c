package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	coreconfig "github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/gateway"
	"github.com/jasonchiu/cloudhelper/feature/channelapi"
)

type Deps struct {
	Config  coreconfig.Runtime
	Gateway *gateway.Gateway
	// Quiet drops the per-request access log.
	Quiet bool
}

func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if !deps.Quiet {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := &channelapi.Handler{
		Channel: deps.Config.Channel,
		Gateway: deps.Gateway,
	}
	h.RegisterRoutes(r)

	return r
}
