package provider

import (
	"net"
	"net/http"
	"time"
)

// httpClient wraps a tuned *http.Client, grounded on the teacher's
// newHTTPClient (ai/core/llm/service.go): generous idle-connection reuse
// for long-lived streaming requests plus a dial timeout short enough to
// fail fast against an unreachable provider.
type httpClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{client: &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}}
}
