package statushandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// SealStatus retrieves the store's seal state from a remote status
// server. This is what container healthchecks call: it needs no store
// token and answers while the store is still sealed.
func SealStatus(ctx context.Context, url string) (interfaces.SealState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/status/seal", nil)
	if err != nil {
		return interfaces.SealState{}, fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return interfaces.SealState{}, fmt.Errorf("could not request seal status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.SealState{}, fmt.Errorf("could not read seal status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return interfaces.SealState{}, fmt.Errorf("seal status request failed: %s: %s", resp.Status, body)
	}

	var statusResp SealStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return interfaces.SealState{}, fmt.Errorf("could not parse seal status response: %w", err)
	}

	return interfaces.SealState{
		Initialized:    statusResp.Initialized,
		Sealed:         statusResp.Sealed,
		TotalShares:    statusResp.TotalShares,
		ShareThreshold: statusResp.ShareThreshold,
		Progress:       statusResp.Progress,
	}, nil
}

// CAChain retrieves the CA chain PEM from a remote status server.
func CAChain(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/ca/chain", nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request ca chain: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read ca chain response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ca chain request failed: %s: %s", resp.Status, body)
	}
	return body, nil
}
