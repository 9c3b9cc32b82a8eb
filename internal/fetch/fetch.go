// Package fetch retrieves raw component content from a source reference.
//
// A reference is either an http(s) URL, fetched by HTTP, or a path relative
// to the configured content root, read by FS. Router picks between them.
// Every failure is reported wrapped in apperr.ErrFetch.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/marcom/internal/apperr"
)

// Fetcher returns the raw bytes behind a source reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Router dispatches references to the HTTP or local fetcher by scheme.
// Either side may be nil, which disables that kind of source.
type Router struct {
	HTTP  Fetcher
	Local Fetcher
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty source reference", apperr.ErrFetch)
	}
	switch scheme(ref) {
	case "http", "https":
		if r.HTTP == nil {
			return nil, fmt.Errorf("%w: remote sources disabled: %s", apperr.ErrFetch, ref)
		}
		return r.HTTP.Fetch(ctx, ref)
	case "":
		if r.Local == nil {
			return nil, fmt.Errorf("%w: local sources disabled: %s", apperr.ErrFetch, ref)
		}
		return r.Local.Fetch(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme in %q", apperr.ErrFetch, ref)
	}
}

func scheme(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || len(u.Scheme) < 2 {
		// Single letters are Windows drive names, not schemes.
		return ""
	}
	return strings.ToLower(u.Scheme)
}
