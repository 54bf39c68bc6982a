package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
)

// maxErrorBody limits how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// headerTransport sets the media type recommended by the GitHub REST API.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", acceptMediaType)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}

// graphqlStatusTransport maps GraphQL responses onto the same error codes the
// REST path produces: rate limits become RATE_LIMITED with the advertised
// reset, 401 becomes AUTH_ERROR and any other non-200 status an HTTP_ERROR.
// A 200 response whose errors carry type RATE_LIMITED is a rate limit as well.
type graphqlStatusTransport struct {
	base http.RoundTripper
	now  func() time.Time
}

type graphqlErrorTypes struct {
	Errors []struct {
		Type string `json:"type"`
	} `json:"errors"`
}

func (t *graphqlStatusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if isGraphQLRateLimited(body) {
			return nil, apperr.RateLimited(t.resetAt(resp.Header), nil)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperr.New(apperr.CodeAuth, "graphql search: bad credentials")
	case isRateLimitResponse(resp):
		return nil, apperr.RateLimited(t.resetAt(resp.Header), nil)
	default:
		appErr := apperr.HTTP(resp.StatusCode, string(body), nil)
		appErr.Message = "graphql search failed"
		return nil, appErr
	}
}

func isGraphQLRateLimited(body []byte) bool {
	var payload graphqlErrorTypes
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	for _, e := range payload.Errors {
		if e.Type == "RATE_LIMITED" {
			return true
		}
	}
	return false
}

func isRateLimitResponse(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}

// resetAt prefers Retry-After, which secondary limits send, over the
// primary limit's X-RateLimit-Reset. A zero time means no reset was advertised.
func (t *graphqlStatusTransport) resetAt(h http.Header) time.Time {
	if seconds, err := strconv.Atoi(h.Get("Retry-After")); err == nil {
		return t.clock().Add(time.Duration(seconds) * time.Second)
	}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		return time.Unix(reset, 0)
	}
	return time.Time{}
}

func (t *graphqlStatusTransport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}
