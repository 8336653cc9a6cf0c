package imagestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const maxRedirects = 10

// HTTPFetcher reads client-supplied http(s) image URLs. Only hosts on the
// allow-list are contacted, redirects included; an empty list fetches nothing.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	allowed  map[string]struct{}
}

var _ Getter = (*HTTPFetcher)(nil)

// NewHTTPFetcher accepts allowed hosts as "host" or "host:port".
func NewHTTPFetcher(client *http.Client, maxBytes int64, allowedHosts []string) *HTTPFetcher {
	f := &HTTPFetcher{maxBytes: maxBytes, allowed: make(map[string]struct{}, len(allowedHosts))}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.allowed[h] = struct{}{}
		}
	}

	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("stopped after 10 redirects")
		}
		return f.checkHost(req.URL)
	}
	f.client = &c
	return f
}

func (f *HTTPFetcher) checkHost(u *url.URL) error {
	if _, ok := f.allowed[strings.ToLower(u.Host)]; ok {
		return nil
	}
	if _, ok := f.allowed[strings.ToLower(u.Hostname())]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Host)
}

func (f *HTTPFetcher) Get(ctx context.Context, ref string) (*Image, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRef, err)
	}
	if err := f.checkHost(req.URL); err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			zap.L().Warn("Failed to close image response body", zap.Error(closeErr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}

	data, err := readCapped(resp.Body, f.maxBytes)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, ContentType: sniffContentType(resp.Header.Get("Content-Type"), data)}, nil
}
