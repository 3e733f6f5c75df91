package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Ingest-side endpoints get a per-IP rate limit: many devices share the
	// collector, and a wedged device must not starve the rest.
	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request)) {
		limited := httprate.Limit(s.ingestRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/api/ping", s.httpPing)
	ratelimited("POST", "/api/ingest", s.httpIngest)
	ratelimited("POST", "/api/resync", s.httpResync)
	unprotected("GET", "/api/data", s.httpData)
	unprotected("GET", "/api/plot", s.httpPlot)
	unprotected("GET", "/api/live", s.httpLive)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Status string `json:"status"`
		Time   int64  `json:"time"`
	}
	www.SendJSON(w, &pingJSON{
		Status: "alive",
		Time:   time.Now().Unix(),
	})
}
