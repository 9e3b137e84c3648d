package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/session"
)

// HTTPIssuer is the client side of the token boundary. Any non-success
// response is a terminal connect failure for the caller.
type HTTPIssuer struct {
	base        string
	displayName string
	httpc       *http.Client
}

func NewHTTPIssuer(base, displayName string) *HTTPIssuer {
	return &HTTPIssuer{
		base:        base,
		displayName: displayName,
		httpc:       &http.Client{Timeout: 10 * time.Second},
	}
}

type mintRequest struct {
	Room string `json:"room"`
	Role string `json:"role"`
	Name string `json:"name"`
}

type mintResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
}

// Mint implements session.TokenIssuer.
func (i *HTTPIssuer) Mint(ctx context.Context, room domain.RoomID, role domain.Role) (session.Token, error) {
	body, err := json.Marshal(mintRequest{Room: string(room), Role: string(role), Name: i.displayName})
	if err != nil {
		return session.Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.base+"/api/token", bytes.NewReader(body))
	if err != nil {
		return session.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpc.Do(req)
	if err != nil {
		return session.Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	var out mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.Token{}, fmt.Errorf("token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return session.Token{}, fmt.Errorf("token issuer: %s", out.Error)
		}
		return session.Token{}, fmt.Errorf("token issuer: status %d", resp.StatusCode)
	}
	return session.Token{Value: out.Token, Identity: domain.Identity(out.Identity)}, nil
}
