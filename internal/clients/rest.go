package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outreach-agent/internal/utils"
)

const maxErrorBody = 512

// restClient is the JSON-over-HTTP plumbing shared by the integrations.
type restClient struct {
	service string
	baseURL string
	http    *http.Client
	retry   utils.RetryPolicy
	auth    func(req *http.Request, query url.Values)
}

func newRestClient(service, baseURL string, timeout time.Duration, retry utils.RetryPolicy, auth func(*http.Request, url.Values)) restClient {
	if retry.Attempts == 0 {
		retry = utils.DefaultRetryPolicy
	}
	return restClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   retry,
		auth:    auth,
	}
}

// do sends one JSON request with retries on transient failures and decodes
// the response into out when it is not nil.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding %s request: %w", c.service, err)
		}
	}

	name := fmt.Sprintf("%s %s %s", c.service, method, path)
	return utils.Retry(ctx, c.retry, name, func(ctx context.Context) error {
		return c.once(ctx, method, path, query, payload, out)
	})
}

func (c *restClient) once(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error building %s request: %w", c.service, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req, q)
	}
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Service:    c.service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", c.service, err)
	}
	return nil
}
