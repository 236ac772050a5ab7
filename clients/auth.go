package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"portal-sync/metrics"
	"portal-sync/models"
)

// Reason tells which check of the login handshake failed
type Reason string

const (
	ReasonNoRedirect           Reason = "no_redirect"
	ReasonCredentialsRejected  Reason = "credentials_rejected"
	ReasonTokenNotFound        Reason = "token_not_found"
	ReasonPortalLoginFailed    Reason = "portal_login_failed"
	ReasonSessionCookieMissing Reason = "session_cookie_missing"
	ReasonRequestFailed        Reason = "request_failed"
)

// State is a step of the login handshake
type State int

const (
	StateStart State = iota
	StateRedirectedToGateway
	StateGatewaySubmitted
	StateTokenExtracted
	StateSelfAuthCompleted
	StateSessionValidated
)

var stateNames = map[State]string{
	StateStart:               "start",
	StateRedirectedToGateway: "redirected_to_gateway",
	StateGatewaySubmitted:    "gateway_submitted",
	StateTokenExtracted:      "token_extracted",
	StateSelfAuthCompleted:   "self_auth_completed",
	StateSessionValidated:    "session_validated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// AuthError is returned when the login handshake fails. State is the last
// state reached before the failing step.
type AuthError struct {
	Reason Reason
	State  State
	Status int    // HTTP status of the failing response, if any
	Body   string // body of the failing response, kept for diagnostics
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("login failed after %s: %s", e.State, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Login runs the gateway handshake and, on success, replaces the session
// with the freshly issued cookies. The caller is responsible for persisting
// the returned jar. Nothing is retried.
func (c *PortalClient) Login(ctx context.Context, creds models.Credentials) (models.CookieJar, error) {
	h := &handshake{
		client: c,
		ctx:    ctx,
		creds:  creds,
		jar:    models.CookieJar{},
		state:  StateStart,
	}

	jar, err := h.run()
	if err != nil {
		reason := string(ReasonRequestFailed)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			reason = string(authErr.Reason)
			if authErr.Body != "" {
				c.logger.Debug("Login response body", zap.String("body", authErr.Body))
			}
		}
		metrics.RecordLogin(reason)
		c.logger.Error("Login failed", zap.String("reason", reason), zap.Error(err))
		return nil, err
	}

	c.session = jar
	metrics.RecordLogin("success")
	c.logger.Info("Login OK")
	return jar.Clone(), nil
}

// handshake holds the throwaway cookie context of one login attempt
type handshake struct {
	client *PortalClient
	ctx    context.Context
	creds  models.Credentials
	jar    models.CookieJar
	state  State
}

func (h *handshake) run() (models.CookieJar, error) {
	p := h.client.proto
	log := h.client.logger

	log.Info("Loading file share login page...")
	resp, err := h.send(http.MethodGet, p.portalEndpoint("/"), nil, nil)
	if err != nil {
		return nil, err
	}
	target, ok := h.gatewayRedirect(resp)
	if !ok {
		return nil, h.fail(ReasonNoRedirect, resp, nil)
	}
	h.state = StateRedirectedToGateway

	log.Info("Loading gateway login page...", zap.String("url", target))
	if _, err := h.send(http.MethodGet, target, nil, nil); err != nil {
		return nil, err
	}

	log.Info("Logging in to gateway...")
	resp, err = h.send(http.MethodPost, p.gatewayEndpoint(p.GatewayLoginPath), nil, p.gatewayForm(h.creds))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, h.fail(ReasonCredentialsRejected, resp, nil)
	}
	h.state = StateGatewaySubmitted

	token, err := p.Token.ExtractToken(resp.String())
	if err != nil {
		return nil, h.fail(ReasonTokenNotFound, nil, err)
	}
	h.state = StateTokenExtracted

	log.Info("Going back to file share auth path...")
	selfAuth := url.Values{p.SelfAuthParam: {token}}
	if _, err := h.send(http.MethodGet, p.portalEndpoint(p.SelfAuthPath), selfAuth, nil); err != nil {
		return nil, err
	}
	h.state = StateSelfAuthCompleted

	log.Info("Logging in to file share...")
	query := url.Values{
		"Command": {"Login"},
		"Sync":    {h.client.syncStamp()},
	}
	resp, err = h.send(http.MethodPost, p.portalEndpoint(p.PortalLoginPath), query, p.portalForm(h.creds))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, h.fail(ReasonPortalLoginFailed, resp, nil)
	}

	if !h.jar.Valid(p.portalHost(), p.SessionCookie) {
		return nil, h.fail(ReasonSessionCookieMissing, nil,
			goerr.New("session cookie not issued",
				goerr.V("cookie", p.SessionCookie), goerr.V("host", p.portalHost())))
	}
	h.state = StateSessionValidated

	return h.jar, nil
}

// send issues one handshake request with the cookies collected so far and
// folds the response cookies back into the jar
func (h *handshake) send(method, endpoint string, query, form url.Values) (*resty.Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, h.fail(ReasonRequestFailed, nil, err)
	}
	host := u.Hostname()

	req := h.client.client.R().
		SetContext(h.ctx).
		SetCookies(requestCookies(h.jar, host))
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if form != nil {
		req.SetFormDataFromValues(form)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, h.fail(ReasonRequestFailed, nil, err)
	}

	absorbCookies(h.jar, host, resp.Cookies(), h.client.now())
	return resp, nil
}

// gatewayRedirect returns the absolute redirect target if resp redirects to
// the gateway host
func (h *handshake) gatewayRedirect(resp *resty.Response) (string, bool) {
	code := resp.StatusCode()
	if code < 300 || code >= 400 {
		return "", false
	}

	location := resp.Header().Get("Location")
	if location == "" {
		return "", false
	}

	target, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil {
		target = raw.Request.URL.ResolveReference(target)
	}

	if !strings.EqualFold(target.Host, h.client.proto.gatewayHost()) {
		return "", false
	}
	return target.String(), true
}

func (h *handshake) fail(reason Reason, resp *resty.Response, cause error) *AuthError {
	authErr := &AuthError{
		Reason: reason,
		State:  h.state,
		Err:    cause,
	}
	if resp != nil {
		authErr.Status = resp.StatusCode()
		authErr.Body = resp.String()
	}
	return authErr
}
