package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
)

// robotsCache fetches and caches robots.txt per host. A host whose
// robots.txt cannot be read stays cached as an error so we do not
// hammer it on every request.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu      sync.Mutex
	entries map[string]*robotsEntry
}

type robotsEntry struct {
	group *robotstxt.Group
	err   error
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		entries:   make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the configured user agent may fetch u.
func (r *robotsCache) Allowed(ctx context.Context, u *url.URL) (bool, error) {
	entry := r.entry(ctx, u)
	if entry.err != nil {
		return false, entry.err
	}
	return entry.group.Test(u.Path), nil
}

func (r *robotsCache) entry(ctx context.Context, u *url.URL) *robotsEntry {
	base := u.Scheme + "://" + u.Host

	r.mu.Lock()
	if e, ok := r.entries[base]; ok {
		r.mu.Unlock()
		return e
	}
	r.mu.Unlock()

	e := r.fetch(ctx, base)

	r.mu.Lock()
	r.entries[base] = e
	r.mu.Unlock()
	return e
}

func (r *robotsCache) fetch(ctx context.Context, base string) *robotsEntry {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return &robotsEntry{err: eris.Wrap(err, "robots: create request")}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return &robotsEntry{err: eris.Wrapf(err, "robots: fetch %s", base)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return &robotsEntry{err: eris.Wrapf(err, "robots: read %s", base)}
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return &robotsEntry{err: eris.Wrapf(err, "robots: parse %s", base)}
	}

	return &robotsEntry{group: data.FindGroup(r.userAgent)}
}
