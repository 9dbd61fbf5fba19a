package gharchive

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	perr "ghstrata/internal/platform/errors"
)

// DefaultBaseURL is the public GH Archive endpoint
const DefaultBaseURL = "https://data.gharchive.org"

// Fetcher opens the gzip stream of one hour. A missing hour is a NotFound
// error, transient failures are Unavailable or TooManyRequests
type Fetcher interface {
	Fetch(ctx context.Context, hour HourRef) (io.ReadCloser, error)
}

// HTTPFetcher streams hours straight from GH Archive or a mirror
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPFetcher targets baseURL, DefaultBaseURL when empty. A zero timeout
// leaves the deadline to the caller's context
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, BaseURL: strings.TrimRight(baseURL, "/")}
}

// URL is where hour lives upstream
func (f *HTTPFetcher) URL(hour HourRef) string {
	return f.BaseURL + "/" + hour.String() + ".json.gz"
}

func (f *HTTPFetcher) Fetch(ctx context.Context, hour HourRef) (io.ReadCloser, error) {
	resp, err := f.get(ctx, hour, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, drain(resp, f.URL(hour))
	}
	return resp.Body, nil
}

// get issues the request with extra headers and returns any response that arrived
func (f *HTTPFetcher) get(ctx context.Context, hour HourRef, hdr http.Header) (*http.Response, error) {
	url := f.URL(hour)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "gharchive: build request %s", url)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, perr.Transient(err, "gharchive: GET "+url)
	}
	return resp, nil
}

// drain discards a small part of an unwanted body so the connection can be reused
func drain(resp *http.Response, url string) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	return statusError(resp.StatusCode, url)
}

// statusError maps a non-200 answer onto error codes. 404 and 410 mean the
// hour does not exist upstream and never will
func statusError(status int, url string) error {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return perr.NotFoundf("gharchive: %s not found (%d)", url, status)
	case status == http.StatusTooManyRequests:
		return perr.Newf(perr.ErrorCodeTooManyRequests, "gharchive: rate limited on %s", url)
	case status == http.StatusRequestTimeout, status >= 500:
		return perr.Unavailablef("gharchive: status %d for %s", status, url)
	}
	return perr.Upstreamf("gharchive: status %d for %s", status, url)
}
