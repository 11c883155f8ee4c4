// Package statushandler implements HTTP handlers and client functions
// for the secret store's operational status surface.
//
// The unsealer's status server mounts these routes so that container
// healthchecks and provisioning scripts can watch the store without
// holding a store token:
//
//   - GET /api/status/seal - initialization and seal state as JSON
//   - GET /api/ca/chain - the CA chain (intermediate then root) as PEM
//
// Server-side usage:
//
//	handler := statushandler.NewHandler(storeClient, logger)
//	router := chi.NewRouter()
//	handler.RegisterRoutes(router)
//
// Client-side usage:
//
//	state, err := statushandler.SealStatus(ctx, "http://unsealer:8080")
//	if err != nil || state.Sealed {
//	    // store not ready yet
//	}
//
// Seal state is public information; the endpoints never expose key
// shares, tokens or secret material.
package statushandler
