// Package origin resolves which origins a storefront application accepts
// basket messages from.
package origin

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	sets "github.com/deckarep/golang-set/v2"
	"github.com/mfshop/storefront/internal/domain/shared"
)

// Normalize reduces rawURL to its origin, scheme://host[:port]. Scheme and
// host are lowercased and default ports are dropped.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q has no scheme or host", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return scheme + "://" + host + ":" + port, nil
	}
	return scheme + "://" + host, nil
}

// IsLocalHostname reports whether host names a local development machine
func IsLocalHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	switch host {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}

// Params is the input of Resolve
type Params struct {
	// SelfURL is the URL this application is served from
	SelfURL string
	// Development and Deployed map each role to its base URL; the set in
	// effect is selected from the hostname of SelfURL
	Development map[shared.AppRole]string
	Deployed    map[shared.AppRole]string
	// ParentURL is the URL of the embedding application, empty when not
	// embedded
	ParentURL string
}

// Allowlist is the immutable set of origins permitted to send messages
type Allowlist struct {
	self         string
	origins      sets.Set[string]
	counterparts map[shared.AppRole]string
	development  bool
}

// Resolve computes the allowlist once for an application lifetime. It
// starts with the application's own origin, adds the origin of every known
// application URL for the current environment and adds the parent's origin
// when it is same-origin. Unparseable counterpart URLs are skipped and
// reported in the returned warnings.
func Resolve(p Params) (*Allowlist, []string, error) {
	self, err := Normalize(p.SelfURL)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot resolve own origin: %w", err)
	}

	u, _ := url.Parse(self)
	development := IsLocalHostname(u.Hostname())
	urls := p.Deployed
	if development {
		urls = p.Development
	}

	a := &Allowlist{
		self:         self,
		origins:      sets.NewThreadUnsafeSet(self),
		counterparts: make(map[shared.AppRole]string, len(urls)),
		development:  development,
	}

	var warnings []string
	for _, role := range shared.Roles {
		raw, ok := urls[role]
		if !ok || raw == "" {
			continue
		}
		o, err := Normalize(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", role, err))
			continue
		}
		a.origins.Add(o)
		a.counterparts[role] = o
	}

	// A cross-origin parent is covered by the configured counterpart URLs
	if p.ParentURL != "" {
		if parent, err := Normalize(p.ParentURL); err == nil && parent == self {
			a.origins.Add(parent)
		}
	}

	return a, warnings, nil
}

// Allows reports whether messages from origin are accepted
func (a *Allowlist) Allows(origin string) bool {
	if a == nil || origin == "" {
		return false
	}
	if a.origins.Contains(origin) {
		return true
	}
	normalized, err := Normalize(origin)
	if err != nil {
		return false
	}
	return a.origins.Contains(normalized)
}

// Self returns the application's own origin
func (a *Allowlist) Self() string {
	return a.self
}

// Development reports whether the development URLs were selected
func (a *Allowlist) Development() bool {
	return a.development
}

// Origins returns the allowed origins in sorted order
func (a *Allowlist) Origins() []string {
	out := a.origins.ToSlice()
	sort.Strings(out)
	return out
}

// CounterpartOrigin returns the origin of role, or "" when it could not be
// resolved
func (a *Allowlist) CounterpartOrigin(role shared.AppRole) string {
	return a.counterparts[role]
}
