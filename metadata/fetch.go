package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

const maxBodyBytes = 1 << 20

var (
	discoveryTypes = []contenttype.MediaType{
		contenttype.NewMediaType("application/json"),
	}
	jwksTypes = []contenttype.MediaType{
		contenttype.NewMediaType("application/json"),
		contenttype.NewMediaType("application/jwk-set+json"),
	}
)

// get fetches url and returns its body and freshness lifetime.
func (r *HTTPResolver) get(ctx context.Context, url string, accept []contenttype.MediaType) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, 0, fmt.Errorf("%w: %s: unexpected status %d", ErrNetwork, url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isJSON(ct, accept) {
		return nil, 0, fmt.Errorf("%w: %s: unexpected content type %q", ErrFormat, url, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: read body: %v", ErrNetwork, url, err)
	}
	if len(body) > maxBodyBytes {
		return nil, 0, fmt.Errorf("%w: %s: body exceeds %d bytes", ErrFormat, url, maxBodyBytes)
	}
	return body, r.lifetime(resp.Header), nil
}

func isJSON(ct string, accept []contenttype.MediaType) bool {
	mt := contenttype.NewMediaType(ct)
	for _, a := range accept {
		if strings.EqualFold(mt.Type, a.Type) && strings.EqualFold(mt.Subtype, a.Subtype) {
			return true
		}
	}
	return mt.Type == "application" && strings.HasSuffix(mt.Subtype, "+json")
}

// lifetime derives freshness from Cache-Control, then Expires, clamped to
// [MinTTL, MaxTTL]. Directives that forbid caching yield MinTTL.
func (r *HTTPResolver) lifetime(h http.Header) time.Duration {
	if d, ok := cacheControlMaxAge(h.Values("Cache-Control")); ok {
		return clampTTL(d)
	}
	if exp := h.Get("Expires"); exp != "" {
		t, err := http.ParseTime(exp)
		if err != nil {
			return MinTTL
		}
		return clampTTL(t.Sub(r.now()))
	}
	return clampTTL(r.defaultTTL)
}

// cacheControlMaxAge returns the effective max-age. s-maxage wins over
// max-age; no-store and no-cache read as zero.
func cacheControlMaxAge(values []string) (time.Duration, bool) {
	var (
		maxAge, sMaxAge time.Duration = -1, -1
		noCache         bool
	)
	for _, v := range values {
		for _, dir := range strings.Split(v, ",") {
			name, arg, _ := strings.Cut(strings.TrimSpace(dir), "=")
			name = strings.ToLower(strings.TrimSpace(name))
			arg = strings.Trim(strings.TrimSpace(arg), `"`)
			switch name {
			case "no-store", "no-cache":
				noCache = true
			case "max-age", "s-maxage":
				n, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || n < 0 {
					continue
				}
				d := time.Duration(n) * time.Second
				if n > int64(MaxTTL/time.Second) {
					d = MaxTTL
				}
				if name == "max-age" {
					maxAge = d
				} else {
					sMaxAge = d
				}
			}
		}
	}
	switch {
	case noCache:
		return 0, true
	case sMaxAge >= 0:
		return sMaxAge, true
	case maxAge >= 0:
		return maxAge, true
	}
	return 0, false
}

func clampTTL(d time.Duration) time.Duration {
	if d < MinTTL {
		return MinTTL
	}
	if d > MaxTTL {
		return MaxTTL
	}
	return d
}
