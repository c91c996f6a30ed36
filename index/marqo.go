package index

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
)

// MarqoClient talks to a Marqo-compatible search engine over HTTP. The engine
// owns content analysis; this client only ships _id-keyed document payloads.
type MarqoClient struct {
	endpoint string
	http     *http.Client
}

func NewMarqoClient(endpoint string, timeout time.Duration) (*MarqoClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("marqo endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("invalid marqo endpoint %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarqoClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *MarqoClient) Upsert(ctx context.Context, indexName, docID string, payload map[string]any) error {
	doc := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc["_id"] = docID
	body := map[string]any{"documents": []any{doc}}
	path := fmt.Sprintf("/indexes/%s/documents", url.PathEscape(indexName))
	return c.post(ctx, path, body)
}

func (c *MarqoClient) Delete(ctx context.Context, indexName, docID string) error {
	body := map[string]any{"documentIds": []string{docID}}
	path := fmt.Sprintf("/indexes/%s/documents/delete-batch", url.PathEscape(indexName))
	return c.post(ctx, path, body)
}

func (c *MarqoClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *MarqoClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &RemoteError{Backend: "marqo", Retryable: false, Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return &RemoteError{Backend: "marqo", Retryable: false, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection failures and client timeouts are worth retrying.
		return &RemoteError{Backend: "marqo", Retryable: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &RemoteError{
		Backend:   "marqo",
		Status:    resp.StatusCode,
		Retryable: retryableStatus(resp.StatusCode),
		Msg:       strings.TrimSpace(string(msg)),
	}
}

// retryableStatus classifies HTTP statuses: server-side and throttling errors
// are transient, client errors (rejected payload, unknown index) are terminal.
func retryableStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return true
	}
	return status >= 500
}
