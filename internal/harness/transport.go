package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/reactor/internal/reactor"
)

// ScriptedTransport answers service calls from a fixed response list.
type ScriptedTransport struct {
	mu        sync.Mutex
	responses []Response
	calls     []reactor.Request
}

// NewScriptedTransport creates a transport serving responses.
func NewScriptedTransport(responses []Response) *ScriptedTransport {
	return &ScriptedTransport{responses: responses}
}

// Send implements reactor.Transport. The first response whose method (if
// given) and URL match wins; responses are reusable.
func (t *ScriptedTransport) Send(ctx context.Context, req reactor.Request) (reactor.Response, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return reactor.Response{}, err
	}
	for _, r := range t.responses {
		if r.URL != req.URL {
			continue
		}
		if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
			continue
		}
		if r.Error != "" {
			return reactor.Response{Status: r.Status}, errors.New(r.Error)
		}
		status := r.Status
		if status == 0 {
			status = 200
		}
		if status >= 400 {
			return reactor.Response{Status: status}, fmt.Errorf("remote error %d", status)
		}
		return reactor.Response{Data: r.Data, Status: status, Meta: map[string]any{"url": req.URL}}, nil
	}
	return reactor.Response{}, fmt.Errorf("no scripted response for %s %s", req.Method, req.URL)
}

// Calls returns the requests seen so far.
func (t *ScriptedTransport) Calls() []reactor.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]reactor.Request(nil), t.calls...)
}
