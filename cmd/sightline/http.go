package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"sightline/internal/api"
	"sightline/internal/auth"
	"sightline/internal/config"
	sightmw "sightline/internal/middleware"
)

// handleHTTPServer configures and starts the HTTP server. It shuts down the
// server once ctx is cancelled.
func handleHTTPServer(ctx context.Context, cfg *config.Config, server *api.Server, authenticator *auth.Authenticator, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {

	// Setup goa log adapter.
	adapter := middleware.NewLogger(logger)

	// Build the HTTP request multiplexer and mount the API on it.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}
	server.Mount(mux)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the endpoints.
	var handler http.Handler = mux
	{
		if cfg.Server.Debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = sightmw.AuthMiddleware(authenticator, []string{"/api/"}, "/api/auth/login")(handler)
		handler = sightmw.CORS(cfg.Server.CORSOrigins)(handler)
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	addr := cfg.Addr()
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range server.Mounts {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
