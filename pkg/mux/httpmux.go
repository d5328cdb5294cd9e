package mux

import (
	"log"
	"net/http"

	"github.com/rs/cors"
)

type mux struct {
	*http.ServeMux
	api *http.ServeMux
}

// New returns a mux with an /api/v1/ sub mux.
func New() *mux {
	mux := &mux{
		api:      http.NewServeMux(),
		ServeMux: http.NewServeMux(),
	}
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", mux.api))

	return mux
}

// Add registers services. Services that also implement RegisterAPIv1 are
// mounted under /api/v1/.
func (mux *mux) Add(fns ...interface{ RegisterHTTP(*http.ServeMux) }) {
	for _, fn := range fns {
		log.Printf("register http %T", fn)
		fn.RegisterHTTP(mux.ServeMux)

		if fn, ok := fn.(interface{ RegisterAPIv1(*http.ServeMux) }); ok {
			log.Printf("register api %T", fn)
			fn.RegisterAPIv1(mux.api)
		}
	}
}

// Handler wraps the mux to allow all origins.
func (mux *mux) Handler() http.Handler {
	return cors.AllowAll().Handler(mux)
}
