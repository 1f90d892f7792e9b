// Package transport provides the HTTP implementation of the service
// transport used by reactor instances.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/roach88/reactor/internal/reactor"
)

// DefaultTimeout applies when neither the config nor the request sets one.
const DefaultTimeout = 10 * time.Second

// Config configures the HTTP transport.
type Config struct {
	// BaseURL is prefixed to relative request URLs.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Timeout time.Duration
	Headers map[string]string

	// Client overrides the underlying http.Client.
	Client *http.Client
}

// HTTP sends service requests over net/http with JSON bodies.
type HTTP struct {
	client  *http.Client
	baseURL string
	apiKey  string
	headers map[string]string
}

// New creates an HTTP transport.
func New(cfg Config) *HTTP {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
	}
}

// Send implements reactor.Transport.
//
// GET, HEAD and DELETE encode a map payload as query parameters; other
// methods send it as the body, JSON unless the content type asks for a
// form. Responses decode as JSON unless DataType is "text".
func (t *HTTP) Send(ctx context.Context, r reactor.Request) (reactor.Response, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := t.resolve(r.URL)

	var body io.Reader
	contentType := r.ContentType
	if r.Payload != nil {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodDelete:
			q, err := query(r.Payload)
			if err != nil {
				return reactor.Response{}, err
			}
			if q != "" {
				sep := "?"
				if strings.Contains(target, "?") {
					sep = "&"
				}
				target += sep + q
			}
		default:
			data, ct, err := encode(r.Payload, contentType)
			if err != nil {
				return reactor.Response{}, err
			}
			body = bytes.NewReader(data)
			contentType = ct
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return reactor.Response{}, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return reactor.Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return reactor.Response{}, fmt.Errorf("read response: %w", err)
	}

	meta := map[string]any{
		"status":       resp.StatusCode,
		"url":          target,
		"content_type": resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode >= 400 {
		return reactor.Response{Status: resp.StatusCode, Meta: meta}, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	out := reactor.Response{Status: resp.StatusCode, Meta: meta}
	switch {
	case len(raw) == 0:
	case strings.EqualFold(r.DataType, "text"):
		out.Data = string(raw)
	default:
		if err := json.Unmarshal(raw, &out.Data); err != nil {
			return out, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

func (t *HTTP) resolve(u string) string {
	if t.baseURL == "" || strings.Contains(u, "://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return t.baseURL + u
}

func encode(payload any, contentType string) ([]byte, string, error) {
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		q, err := query(payload)
		if err != nil {
			return nil, "", err
		}
		return []byte(q), contentType, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return data, contentType, nil
}

func query(payload any) (string, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", fmt.Errorf("payload of type %T cannot be sent as query parameters", payload)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := url.Values{}
	for _, k := range keys {
		vals.Set(k, fmt.Sprint(m[k]))
	}
	return vals.Encode(), nil
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound
	}
	return false
}

var _ reactor.Transport = (*HTTP)(nil)
