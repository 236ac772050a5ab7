package clients

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"portal-sync/models"
)

// DefaultUserAgent is sent with every request; the portal only serves
// browser-looking clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/117.0"

// ErrTokenNotFound is returned by a TokenExtractor when the body holds no token
var ErrTokenNotFound = goerr.New("authentication token not found")

// TokenExtractor pulls the one-time gateway token out of the login response
type TokenExtractor interface {
	ExtractToken(body string) (string, error)
}

// RegexpToken extracts the first capture group of a pattern
type RegexpToken struct {
	Pattern *regexp.Regexp
}

// ExtractToken implements TokenExtractor
func (r RegexpToken) ExtractToken(body string) (string, error) {
	match := r.Pattern.FindStringSubmatch(body)
	if len(match) < 2 || match[1] == "" {
		return "", ErrTokenNotFound
	}
	return match[1], nil
}

// CodeToken matches the "code=<token>" query fragment the gateway hands back
var CodeToken = RegexpToken{Pattern: regexp.MustCompile(`code=(\w+)`)}

// Protocol describes one vendor's portal and gateway: where the endpoints
// live, which form fields they expect and how the token is scraped.
type Protocol struct {
	Name string

	PortalURL  string // e.g. https://file.example.com
	GatewayURL string // e.g. https://authentication.example.com
	UserAgent  string

	GatewayLoginPath     string
	GatewayUserField     string
	GatewayPasswordField string

	SelfAuthPath  string
	SelfAuthParam string

	PortalLoginPath     string
	PortalUserField     string
	PortalPasswordField string
	PortalLanguage      string

	PingPath     string
	ListPath     string
	DownloadPath string

	SessionCookie string
	Token         TokenExtractor
}

// NetScaler is a Serv-U web client published behind a NetScaler gateway:
// the portal is file.<domain> and the gateway is authentication.<domain>.
func NetScaler(domain string) Protocol {
	return Protocol{
		Name:                 "netscaler",
		PortalURL:            "https://file." + domain,
		GatewayURL:           "https://authentication." + domain,
		UserAgent:            DefaultUserAgent,
		GatewayLoginPath:     "/cgi/login",
		GatewayUserField:     "login",
		GatewayPasswordField: "passwd",
		SelfAuthPath:         "/cgi/selfauth",
		SelfAuthParam:        "code",
		PortalLoginPath:      "/Login.xml",
		PortalUserField:      "user",
		PortalPasswordField:  "pword",
		PortalLanguage:       "en-US",
		PingPath:             "/",
		ListPath:             "/Web%20Client/ListError.xml",
		DownloadPath:         "/Web%20Client/",
		SessionCookie:        "Session",
		Token:                CodeToken,
	}
}

var vendors = map[string]func(domain string) Protocol{
	"netscaler": NetScaler,
}

// Vendors returns the names of the built-in protocol presets
func Vendors() []string {
	names := make([]string, 0, len(vendors))
	for name := range vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupVendor returns the preset called name for domain
func LookupVendor(name, domain string) (Protocol, error) {
	build, ok := vendors[strings.ToLower(name)]
	if !ok {
		return Protocol{}, goerr.New("unknown portal vendor",
			goerr.V("vendor", name), goerr.V("known", strings.Join(Vendors(), ",")))
	}
	return build(domain), nil
}

// Validate checks that every endpoint needed by the client is set
func (p Protocol) Validate() error {
	for name, raw := range map[string]string{"portal URL": p.PortalURL, "gateway URL": p.GatewayURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return goerr.New(fmt.Sprintf("invalid %s", name), goerr.V("url", raw))
		}
	}
	if p.Token == nil {
		return goerr.New("protocol has no token extractor", goerr.V("vendor", p.Name))
	}
	if p.SessionCookie == "" {
		return goerr.New("protocol has no session cookie name", goerr.V("vendor", p.Name))
	}
	return nil
}

func (p Protocol) portalHost() string {
	return hostname(p.PortalURL)
}

func (p Protocol) gatewayHost() string {
	u, err := url.Parse(p.GatewayURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (p Protocol) portalEndpoint(path string) string {
	return strings.TrimSuffix(p.PortalURL, "/") + path
}

func (p Protocol) gatewayEndpoint(path string) string {
	return strings.TrimSuffix(p.GatewayURL, "/") + path
}

func (p Protocol) gatewayForm(creds models.Credentials) url.Values {
	return url.Values{
		p.GatewayUserField:     {creds.Username},
		p.GatewayPasswordField: {creds.Password},
	}
}

func (p Protocol) portalForm(creds models.Credentials) url.Values {
	return url.Values{
		p.PortalUserField:     {creds.Username},
		p.PortalPasswordField: {creds.Password},
		"viewshare":           {""},
		"language":            {p.PortalLanguage},
	}
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
