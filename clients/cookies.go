package clients

import (
	"net/http"
	"time"

	"portal-sync/models"
)

// absorbCookies folds the Set-Cookie headers of a response into jar. Cookies
// without a Domain attribute are scoped to the host that set them.
func absorbCookies(jar models.CookieJar, host string, cookies []*http.Cookie, now time.Time) {
	for _, hc := range cookies {
		c := fromHTTPCookie(hc, host, now)
		if hc.MaxAge < 0 || c.Expired(now) {
			delete(jar, c.Name)
			continue
		}
		jar.Set(c)
	}
}

// requestCookies returns the jar entries to present to host
func requestCookies(jar models.CookieJar, host string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, c := range jar.ForHost(host) {
		cookies = append(cookies, toHTTPCookie(c))
	}
	return cookies
}

func fromHTTPCookie(hc *http.Cookie, host string, now time.Time) models.Cookie {
	domain := hc.Domain
	if domain == "" {
		domain = host
	}

	expires := hc.Expires
	if hc.MaxAge > 0 {
		expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	}

	path := hc.Path
	if path == "" {
		path = "/"
	}

	return models.Cookie{
		Name:      hc.Name,
		Value:     hc.Value,
		Domain:    domain,
		Path:      path,
		HTTPOnly:  hc.HttpOnly,
		Secure:    hc.Secure,
		ExpiresAt: expires.UTC(),
	}
}

func toHTTPCookie(c models.Cookie) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		Expires:  c.ExpiresAt,
	}
}
