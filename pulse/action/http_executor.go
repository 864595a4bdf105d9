package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/version"
)

// maxResponseBody bounds how much of a collaborator response is read
const maxResponseBody = 64 << 10

// HTTPExecutor invokes an external scrape/generate/send service over HTTP.
//
// The request body is {"job": JobContext, "config": <action config>}. A 2xx
// response succeeds unless its JSON body carries "succeeded": false.
type HTTPExecutor struct {
	URL    string
	Token  string
	Client *http.Client
}

type httpActionRequest struct {
	Job    JobContext      `json:"job"`
	Config json.RawMessage `json:"config,omitempty"`
}

type httpActionResponse struct {
	Succeeded *bool  `json:"succeeded"`
	Error     string `json:"error"`
}

// NewHTTPExecutor creates an executor posting to url
func NewHTTPExecutor(url, token string, client *http.Client) *HTTPExecutor {
	if client == nil {
		// Deadlines come from the runner's per-action context
		client = &http.Client{}
	}
	return &HTTPExecutor{URL: url, Token: token, Client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, job JobContext, config json.RawMessage) (bool, error) {
	body, err := json.Marshal(httpActionRequest{Job: job, Config: config})
	if err != nil {
		return false, errors.Wrap(err, "failed to encode action request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrapf(err, "failed to build request for %s", e.URL)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())
	req.Header.Set("X-Inkpulse-Run-Id", job.RunID)
	if e.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "request to %s failed", e.URL)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.Newf("%s returned HTTP %d", e.URL, resp.StatusCode)
		if snippet := strings.TrimSpace(string(respBody)); snippet != "" {
			err = errors.WithDetail(err, fmt.Sprintf("response: %.256s", snippet))
		}
		return false, err
	}
	// A truncated body may have carried a reported failure
	if readErr != nil {
		return false, errors.Wrapf(readErr, "failed to read response from %s", e.URL)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return true, nil
	}

	var parsed httpActionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// Non-JSON 2xx bodies count as success
		return true, nil
	}
	if parsed.Succeeded != nil && !*parsed.Succeeded {
		if parsed.Error == "" {
			parsed.Error = "collaborator reported failure"
		}
		return false, errors.New(parsed.Error)
	}
	return true, nil
}

// NewRegistryFromConfig registers an HTTPExecutor for every kind with a configured URL.
// Kinds without a URL stay unregistered and fail at run time.
func NewRegistryFromConfig(cfg am.ActionsConfig, client *http.Client) *Registry {
	registry := NewRegistry()
	urls := map[Kind]string{
		KindScrape:   cfg.ScrapeURL,
		KindGenerate: cfg.GenerateURL,
		KindSend:     cfg.SendURL,
	}
	for _, kind := range Kinds {
		if url := strings.TrimSpace(urls[kind]); url != "" {
			_ = registry.Register(kind, NewHTTPExecutor(url, cfg.Token, client))
		}
	}
	return registry
}
