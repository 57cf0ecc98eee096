// Package oracle implements the verification oracle client: it asks a token's
// mint whether the token's proofs are still spendable.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/cashutrack/internal/token"
)

// Status is the redemption status reported by the oracle.
type Status int

const (
	// StatusOutstanding means at least one proof is still spendable.
	StatusOutstanding Status = iota + 1
	// StatusRedeemed means every proof has been spent.
	StatusRedeemed
)

func (s Status) String() string {
	switch s {
	case StatusOutstanding:
		return "outstanding"
	case StatusRedeemed:
		return "redeemed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrRateLimited is returned when the mint throttles the caller.
	ErrRateLimited = errors.New("oracle: rate limited")
	// ErrUnavailable is returned for transport failures, timeouts and
	// unexpected responses.
	ErrUnavailable = errors.New("oracle: unavailable")
)

// DefaultCheckPath is the mint endpoint queried for proof state.
const DefaultCheckPath = "/check"

const maxResponseBytes = 1 << 20

// Client checks token status against the issuing mint over HTTP.
type Client struct {
	http      *http.Client
	checkPath string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for mint requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithCheckPath sets the endpoint path appended to the mint URL.
func WithCheckPath(path string) Option {
	return func(cl *Client) {
		if path = strings.TrimSpace(path); path != "" {
			cl.checkPath = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// New creates a Client. Per-call deadlines come from the caller's context.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		checkPath: DefaultCheckPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkRequest struct {
	Proofs []checkProof `json:"proofs"`
}

type checkProof struct {
	Secret string `json:"secret"`
}

type checkResponse struct {
	Spendable []bool `json:"spendable"`
}

// Check reports whether every proof in payload has been spent.
//
// Errors wrap ErrRateLimited or ErrUnavailable. A payload the mint cannot be
// derived from is reported as ErrUnavailable wrapping token.ErrInvalidPayload;
// admission is expected to have rejected it earlier.
func (c *Client) Check(ctx context.Context, payload string) (Status, error) {
	decoded, err := token.Decode(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// A mint only knows the proofs it issued.
	secrets := decoded.SecretsFor(decoded.Mint)
	req := checkRequest{Proofs: make([]checkProof, len(secrets))}
	for i, secret := range secrets {
		req.Proofs[i] = checkProof{Secret: secret}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, decoded.Mint+c.checkPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrUnavailable, decoded.Mint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("%w: %s returned %d", ErrRateLimited, decoded.Mint, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if isRateLimitMessage(respBody) {
			return 0, fmt.Errorf("%w: %s: %s", ErrRateLimited, decoded.Mint, strings.TrimSpace(string(respBody)))
		}
		return 0, fmt.Errorf("%w: %s returned %d", ErrUnavailable, decoded.Mint, resp.StatusCode)
	}

	var out checkResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if len(out.Spendable) != len(secrets) {
		return 0, fmt.Errorf("%w: %s reported %d states for %d proofs",
			ErrUnavailable, decoded.Mint, len(out.Spendable), len(secrets))
	}

	for _, spendable := range out.Spendable {
		if spendable {
			return StatusOutstanding, nil
		}
	}
	return StatusRedeemed, nil
}

// isRateLimitMessage matches mints that signal throttling in the body
// rather than with a 429 status.
func isRateLimitMessage(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "rate limit")
}
