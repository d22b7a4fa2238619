package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ericksa/contractd/internal/model"
)

type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type authResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message,omitempty"`
}

// VerifyUser resolves a bearer token to a user by calling GET /auth/me with
// the Authorization header forwarded verbatim. Every failure wraps
// ErrAuthentication.
func (c *AuthClient) VerifyUser(ctx context.Context, token string) (*model.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuthentication)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: auth service unreachable: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrAuthentication, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: auth service returned %d", ErrAuthentication, resp.StatusCode)
	}

	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrAuthentication, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, out.Message)
	}

	id := stringField(out.Data, "id")
	if id == "" {
		id = stringField(out.Data, "_id")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: response has no user id", ErrAuthentication)
	}
	return &model.User{ID: id, Email: stringField(out.Data, "email"), Raw: out.Data}, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
