package app

import (
	"context"
	"net/http"
	"time"

	"publicsquare/pkg/api"
	"publicsquare/pkg/logger"
)

// startHTTP builds the handler, starts the HTTP server in a goroutine
// and returns a channel that will carry any fatal server error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	handler := api.New(a.mgr, a.reg, a.client, a.hub, a.st, a.version).Router(api.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              a.eff.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		tls := a.eff.Config.Server.TLS
		logger.Info("http_listening", "addr", a.eff.Addr, "tls", tls.CertFile != "")
		var err error
		if tls.CertFile != "" && tls.KeyFile != "" {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
		}
	}()

	return errCh
}
