package clients_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"portal-sync/clients"
	"portal-sync/models"
)

const (
	testUser     = "alice"
	testPassword = "s3cret"
	testToken    = "tok42abc"
	testSession  = "sess-123"
)

// fakePortal emulates a Serv-U portal behind a NetScaler gateway. The zero
// value of every toggle produces a successful handshake.
type fakePortal struct {
	portal  *httptest.Server
	gateway *httptest.Server

	mu sync.Mutex

	rootStatus          int  // status of the unauthenticated root request; 0 means redirect
	redirectElsewhere   bool // redirect to a host that is not the gateway
	dropGatewayPage     bool // kill the connection when the login page is fetched
	gatewayLoginBody    string
	dropSelfAuth        bool
	portalLoginStatus   int
	withoutSession      bool
	listStatus          int
	listBody            string
	files               map[string]string // remote path -> content
	failFiles           map[string]int    // remote path -> status
	gotGatewayForm      url.Values
	gotPortalForm       url.Values
	gotPortalLoginQuery url.Values
	gotSelfAuthCode     string
	gotListQuery        url.Values
	gotUserAgents       []string
	downloads           []string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	f := &fakePortal{
		files:     map[string]string{},
		failFiles: map[string]int{},
	}
	f.gateway = httptest.NewServer(http.HandlerFunc(f.serveGateway))
	f.portal = httptest.NewServer(http.HandlerFunc(f.servePortal))
	t.Cleanup(func() {
		f.portal.Close()
		f.gateway.Close()
	})
	return f
}

func (f *fakePortal) protocol() clients.Protocol {
	p := clients.NetScaler("example.com")
	p.PortalURL = f.portal.URL
	p.GatewayURL = f.gateway.URL
	return p
}

func (f *fakePortal) newClient(t *testing.T, opts ...clients.Option) *clients.PortalClient {
	t.Helper()
	c, err := clients.NewPortalClient(f.protocol(), testLogger(t), opts...)
	if err != nil {
		t.Fatalf("NewPortalClient: %v", err)
	}
	return c
}

func (f *fakePortal) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotUserAgents = append(f.gotUserAgents, r.UserAgent())
}

func (f *fakePortal) authenticated(r *http.Request) bool {
	c, err := r.Cookie("Session")
	return err == nil && c.Value == testSession
}

func (f *fakePortal) servePortal(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	q := r.URL.Query()

	switch {
	case r.URL.Path == "/" && q.Get("Command") == "NOOP":
		if r.Method != http.MethodPost || !f.authenticated(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/":
		if f.rootStatus != 0 {
			w.WriteHeader(f.rootStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "NSC_TASS", Value: "portal-pre", Path: "/"})
		target := f.gateway.URL + "/logon/LogonPoint/index.html"
		if f.redirectElsewhere {
			target = "https://elsewhere.example.net/login"
		}
		http.Redirect(w, r, target, http.StatusFound)

	case r.URL.Path == "/cgi/selfauth":
		if f.dropSelfAuth {
			dropConnection(w)
			return
		}
		f.mu.Lock()
		f.gotSelfAuthCode = q.Get("code")
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "NSC_AAAC", Value: "bound", Path: "/"})
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/Login.xml":
		_ = r.ParseForm()
		f.mu.Lock()
		f.gotPortalForm = r.PostForm
		f.gotPortalLoginQuery = q
		f.mu.Unlock()
		if f.portalLoginStatus != 0 {
			w.WriteHeader(f.portalLoginStatus)
			return
		}
		if !f.withoutSession {
			http.SetCookie(w, &http.Cookie{Name: "Session", Value: testSession, Path: "/", HttpOnly: true})
		}
		fmt.Fprint(w, `<?xml version="1.0"?><loginresult><result>0</result></loginresult>`)

	case r.URL.Path == "/Web Client/ListError.xml":
		f.mu.Lock()
		f.gotListQuery = q
		f.mu.Unlock()
		if !f.authenticated(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, f.listBody)

	case r.URL.Path == "/Web Client/" && q.Get("Command") == "Download":
		file := q.Get("File")
		f.mu.Lock()
		f.downloads = append(f.downloads, file)
		status, failing := f.failFiles[file]
		content, ok := f.files[file]
		f.mu.Unlock()
		switch {
		case !f.authenticated(r):
			w.WriteHeader(http.StatusUnauthorized)
		case failing:
			w.WriteHeader(status)
		case !ok:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, content)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePortal) serveGateway(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	switch r.URL.Path {
	case "/logon/LogonPoint/index.html":
		if f.dropGatewayPage {
			dropConnection(w)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "NSC_TMAA", Value: "gw-page", Path: "/"})
		fmt.Fprint(w, `<html><body><form action="/cgi/login"></form></body></html>`)

	case "/cgi/login":
		_ = r.ParseForm()
		f.mu.Lock()
		f.gotGatewayForm = r.PostForm
		f.mu.Unlock()
		if r.PostForm.Get("login") != testUser || r.PostForm.Get("passwd") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "Incorrect credentials. Try again.")
			return
		}
		body := f.gatewayLoginBody
		if body == "" {
			body = `<html><script>window.location.href="/cgi/selfauth?code=` + testToken + `";</script></html>`
		}
		fmt.Fprint(w, body)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// dropConnection closes the underlying connection without a response
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// login runs a successful handshake so later calls carry the session
func (f *fakePortal) login(t *testing.T, c *clients.PortalClient) {
	t.Helper()
	if _, err := c.Login(context.Background(), models.Credentials{Username: testUser, Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
}
