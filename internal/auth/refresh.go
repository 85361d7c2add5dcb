package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// HTTPRefresher calls the token refresh endpoint of the HTTP side-channel.
type HTTPRefresher struct {
	URL    string
	Client *http.Client
}

// NewHTTPRefresher creates a refresher posting to url.
func NewHTTPRefresher(url string) *HTTPRefresher {
	return &HTTPRefresher{URL: url, Client: &http.Client{Timeout: 15 * time.Second}}
}

// Refresh posts {"refresh": ...} and decodes {"access", "refresh"}.
// 400, 401 and 403 map to ErrRefreshRejected; anything else is a transient failure.
func (r *HTTPRefresher) Refresh(ctx context.Context, access, refresh string) (model.Tokens, error) {
	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return model.Tokens{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return model.Tokens{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("post %s: %w", r.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return model.Tokens{}, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.Tokens{}, fmt.Errorf("refresh endpoint: status %d", resp.StatusCode)
	}

	var tokens model.Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return model.Tokens{}, fmt.Errorf("decode refresh response: %w", err)
	}
	return tokens, nil
}
