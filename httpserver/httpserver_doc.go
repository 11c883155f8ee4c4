/*
Package httpserver implements the operational status server that the
provisioning daemons expose alongside their real work.

The server carries liveness, readiness and drain endpoints plus an
optional Prometheus metrics listener on a separate address. API routes
are mounted through the RouteRegistrar the caller passes in; the
unsealer mounts the statushandler package here so healthchecks and
provisioning scripts can watch the store's seal state.

Readiness starts false and stays false until the owning daemon calls
SetReady(true). For the unsealer that happens when the store reports
unsealed, so orchestrators gate dependent services on readyz.

Endpoints:

  - GET /livez - liveness check
  - GET /readyz - readiness check (503 until SetReady(true))
  - GET /drain - mark the server not ready ahead of shutdown
  - GET /undrain - mark the server ready again
  - mounted API routes, e.g. /api/status/seal and /api/ca/chain

Example usage:

	handler := statushandler.NewHandler(storeClient, logger)

	config := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	server, err := httpserver.New(config, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()

	// Later, once the store is unsealed:
	server.SetReady(true)
*/
package httpserver
