package models

import (
	"strings"
	"time"
)

// Cookie is a session cookie as tracked by the client and persisted to disk.
// The name is the key of the enclosing CookieJar and is not serialized.
type Cookie struct {
	Name      string    `json:"-"`
	Value     string    `json:"value"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	HTTPOnly  bool      `json:"httpOnly"`
	Secure    bool      `json:"secure"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Matches reports whether the cookie is scoped to host. A cookie matches its
// own domain and, like a browser, any sub-domain of it.
func (c Cookie) Matches(host string) bool {
	host = strings.ToLower(host)
	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Expired reports whether the cookie carries an expiry that is before now.
// Session cookies (zero ExpiresAt) never expire.
func (c Cookie) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// CookieJar maps cookie names to cookies. When two cookies share a name the
// later one wins.
type CookieJar map[string]Cookie

// Set stores c under its name, replacing any previous cookie of that name
func (j CookieJar) Set(c Cookie) {
	j[c.Name] = c
}

// Get returns the cookie stored under name
func (j CookieJar) Get(name string) (Cookie, bool) {
	c, ok := j[name]
	return c, ok
}

// Clone returns an independent copy of the jar
func (j CookieJar) Clone() CookieJar {
	clone := make(CookieJar, len(j))
	for name, c := range j {
		clone[name] = c
	}
	return clone
}

// ForHost returns the cookies that should be presented to host
func (j CookieJar) ForHost(host string) []Cookie {
	var cookies []Cookie
	for _, c := range j {
		if c.Matches(host) {
			cookies = append(cookies, c)
		}
	}
	return cookies
}

// Valid reports whether the jar holds a non-empty cookie called name that is
// scoped to host
func (j CookieJar) Valid(host, name string) bool {
	c, ok := j[name]
	return ok && c.Value != "" && c.Matches(host)
}
