package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/teranos/foreman/errors"
	"github.com/teranos/foreman/internal/httpclient"
)

// clientTimeoutBuffer pads the outbound HTTP guard past the task deadline
// so the executor's context always fires first and owns the timeout
// classification.
const clientTimeoutBuffer = 10 * time.Second

// ParseClient is what the executor needs from the outbound transport.
// Implementations must honor ctx cancellation on both calls.
type ParseClient interface {
	Execute(ctx context.Context, worker *Worker, payload map[string]interface{}) (map[string]interface{}, error)
	Probe(ctx context.Context, worker *Worker) (*ProbeResult, error)
}

// ProbeResult reports one health probe against a worker
type ProbeResult struct {
	Healthy  bool   // a 2xx answer from /health or /openapi.json
	Endpoint string // path that answered
	Version  string // info.version from the openapi document, when present
}

// HTTPParseClient talks to MinerU-compatible workers over HTTP
type HTTPParseClient struct {
	httpc *httpclient.Client

	// taskTimeout reports the current per-attempt execution budget; the
	// client guards each call at taskTimeout + clientTimeoutBuffer for
	// callers that arrive without their own deadline.
	taskTimeout func() time.Duration
}

// NewHTTPParseClient creates the outbound client. taskTimeout may be nil,
// in which case no guard beyond the caller's ctx is applied.
func NewHTTPParseClient(httpc *httpclient.Client, taskTimeout func() time.Duration) *HTTPParseClient {
	return &HTTPParseClient{
		httpc:       httpc,
		taskTimeout: taskTimeout,
	}
}

// Execute submits a parse payload to the worker and returns the decoded
// result body. The payload's backend field is substituted with the
// worker's backend when the request asks for "auto" or leaves it unset;
// everything else is forwarded verbatim.
//
// Failures before an HTTP response carry ErrTransport; non-2xx answers
// carry ErrRemote with a body snippet.
func (c *HTTPParseClient) Execute(ctx context.Context, worker *Worker, payload map[string]interface{}) (map[string]interface{}, error) {
	if c.taskTimeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.taskTimeout()+clientTimeoutBuffer)
		defer cancel()
	}

	outbound := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		outbound[k] = v
	}
	if backend, _ := outbound["backend"].(string); backend == "" || backend == "auto" {
		outbound["backend"] = worker.Backend
	}

	body, err := json.Marshal(outbound)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal parse payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, worker.URL+"/file_parse", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build parse request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "worker %s unreachable", worker.Name), errors.ErrTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "worker %s response read failed", worker.Name), errors.ErrTransport)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Mark(
			errors.Newf("HTTP %d: %s", resp.StatusCode, bodySnippet(raw)),
			errors.ErrRemote)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "worker %s returned invalid JSON", worker.Name), errors.ErrRemote)
	}
	return result, nil
}

// Probe checks worker liveness: GET /health first, falling back to
// GET /openapi.json, either 2xx counts. The openapi fallback also yields
// the worker's advertised version when the document carries one.
//
// A reachable worker answering non-2xx returns Healthy=false with a nil
// error; a transport failure on both paths returns an ErrTransport error.
func (c *HTTPParseClient) Probe(ctx context.Context, worker *Worker) (*ProbeResult, error) {
	resp, err := c.get(ctx, worker.URL+"/health")
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &ProbeResult{Healthy: true, Endpoint: "/health"}, nil
		}
	}
	answered := err == nil

	resp2, err2 := c.get(ctx, worker.URL+"/openapi.json")
	if err2 == nil {
		defer resp2.Body.Close()
		if resp2.StatusCode >= 200 && resp2.StatusCode < 300 {
			return &ProbeResult{
				Healthy:  true,
				Endpoint: "/openapi.json",
				Version:  openapiVersion(resp2.Body),
			}, nil
		}
		answered = true
	}

	if answered {
		return &ProbeResult{Healthy: false}, nil
	}
	return nil, errors.Mark(errors.Wrapf(err2, "worker %s unreachable", worker.Name), errors.ErrTransport)
}

func (c *HTTPParseClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.httpc.Do(req)
}

// openapiVersion extracts info.version from an OpenAPI document,
// returning "" on any shape mismatch.
func openapiVersion(r io.Reader) string {
	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&doc); err != nil {
		return ""
	}
	return doc.Info.Version
}

// bodySnippet trims an error response body down to log-friendly size
func bodySnippet(raw []byte) string {
	const max = 512
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
