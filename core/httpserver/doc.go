// Package httpserver wraps http.Server with graceful shutdown and
// environment-driven configuration for the engine's control listener.
//
// The listener serves the operator API and the ACME challenge responder
// over plain HTTP: TLS for tenant traffic is the proxy tier's job, and
// the certificates this engine issues are consumed there, never by its
// own listener.
//
// Usage:
//
//	srv, err := httpserver.NewFromConfig(cfg, httpserver.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
package httpserver
