package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// ErrTokenFetch is the generic error surfaced when the token service
// cannot issue an access token, whatever the underlying cause.
var ErrTokenFetch = errors.New("failed to obtain access token")

// TokenRequest asks the token service for realtime credentials. The
// prompt body rides along as room metadata so the agent picks up its
// system prompt during negotiation.
type TokenRequest struct {
	Room        string `json:"room"`
	Participant string `json:"participant"`
	Metadata    string `json:"metadata"`
	Mode        string `json:"mode"`
}

// TokenResponse carries the credential and the transport endpoint.
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// TokenService issues realtime access tokens.
type TokenService interface {
	Issue(ctx context.Context, req TokenRequest) (TokenResponse, error)
}

// HTTPTokenService talks to the external token endpoint over HTTP.
type HTTPTokenService struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTokenService creates a client for the given endpoint.
func NewHTTPTokenService(endpoint string) *HTTPTokenService {
	return &HTTPTokenService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Issue requests a token. Every failure collapses into ErrTokenFetch;
// the caller only ever surfaces the generic message.
func (s *HTTPTokenService) Issue(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrTokenFetch, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrTokenFetch, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrTokenFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, fmt.Errorf("%w: status %d", ErrTokenFetch, resp.StatusCode)
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrTokenFetch, err)
	}
	if out.Token == "" || out.URL == "" {
		return TokenResponse{}, fmt.Errorf("%w: incomplete response", ErrTokenFetch)
	}
	return out, nil
}
