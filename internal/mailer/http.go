package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

const maxErrorBody = 4 << 10

type apiRequest struct {
	provider string
	method   string
	url      string
	headers  map[string]string
	basic    [2]string
	body     io.Reader
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// do sends req and decodes a 2xx JSON body into out. Non-2xx statuses and
// transport failures come back as *appErrors.ProviderError.
func do(ctx context.Context, client httpDoer, req apiRequest, out any) (http.Header, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, req.body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.provider, err)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	if req.basic[0] != "" {
		httpReq.SetBasicAuth(req.basic[0], req.basic[1])
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, appErrors.NewProviderTransportError(req.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.Header, appErrors.NewProviderStatusError(req.provider, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.Header, fmt.Errorf("%s: decode response: %w", req.provider, err)
		}
	}
	return resp.Header, nil
}

func jsonRequest(provider, rawURL string, headers map[string]string, payload any) (apiRequest, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return apiRequest{}, fmt.Errorf("%s: encode request: %w", provider, err)
	}
	h := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return apiRequest{provider: provider, method: http.MethodPost, url: rawURL, headers: h, body: bytes.NewReader(b)}, nil
}

func formRequest(provider, rawURL string, form url.Values) apiRequest {
	return apiRequest{
		provider: provider,
		method:   http.MethodPost,
		url:      rawURL,
		headers:  map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		body:     strings.NewReader(form.Encode()),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
