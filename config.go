package main

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"portal-sync/clients"
	"portal-sync/logging"
	"portal-sync/models"
	"portal-sync/store"
)

type settings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	Portal struct {
		Vendor     string `mapstructure:"vendor"`
		Domain     string `mapstructure:"domain"`
		PortalURL  string `mapstructure:"portal_url"`
		GatewayURL string `mapstructure:"gateway_url"`
		UserAgent  string `mapstructure:"user_agent"`
	} `mapstructure:"portal"`

	Cookies struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"cookies"`

	Download struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"download"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Run runSettings `mapstructure:"run"`
}

// runSettings are the per-invocation flags
type runSettings struct {
	List      bool   `mapstructure:"list"`
	Download  bool   `mapstructure:"download"`
	Watch     bool   `mapstructure:"watch"`
	Directory string `mapstructure:"directory"`
	After     string `mapstructure:"after"`
	Before    string `mapstructure:"before"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.vendor", "netscaler")
	v.SetDefault("cookies.path", store.DefaultCookiesPath)
	v.SetDefault("download.dir", clients.DefaultDownloadDir)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func loadSettings(v *viper.Viper) (*settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, goerr.Wrap(err, "failed to decode configuration")
	}
	return &s, nil
}

// anyAction reports whether one of the action flags was given
func (s *settings) anyAction() bool {
	return s.Run.List || s.Run.Download || s.Run.Watch
}

func (s *settings) validate() error {
	if s.anyAction() && s.Run.Directory == "" {
		return goerr.New("a directory is required when --list, --download or --watch is set")
	}
	if s.Portal.Domain == "" && (s.Portal.PortalURL == "" || s.Portal.GatewayURL == "") {
		return goerr.New("portal.domain is required unless both portal.portal_url and portal.gateway_url are set")
	}
	return nil
}

func (s *settings) credentials() models.Credentials {
	return models.Credentials{Username: s.Username, Password: s.Password}
}

func (s *settings) loggingConfig() logging.Config {
	return logging.Config{Level: s.Log.Level, Format: s.Log.Format}
}

// protocol builds the vendor preset and applies the configured overrides
func (s *settings) protocol() (clients.Protocol, error) {
	p, err := clients.LookupVendor(s.Portal.Vendor, s.Portal.Domain)
	if err != nil {
		return clients.Protocol{}, err
	}
	if s.Portal.PortalURL != "" {
		p.PortalURL = s.Portal.PortalURL
	}
	if s.Portal.GatewayURL != "" {
		p.GatewayURL = s.Portal.GatewayURL
	}
	if s.Portal.UserAgent != "" {
		p.UserAgent = s.Portal.UserAgent
	}
	return p, p.Validate()
}

// window parses the --after/--before bounds; an unset bound is open
func (s *settings) window() (after, before time.Time, err error) {
	after, err = parseBound(s.Run.After, models.MinTime)
	if err != nil {
		return after, before, goerr.Wrap(err, "invalid --after", goerr.V("value", s.Run.After))
	}
	before, err = parseBound(s.Run.Before, models.MaxTime)
	if err != nil {
		return after, before, goerr.Wrap(err, "invalid --before", goerr.V("value", s.Run.Before))
	}
	if !after.Before(before) {
		return after, before, goerr.New("--after must be earlier than --before",
			goerr.V("after", after), goerr.V("before", before))
	}
	return after, before, nil
}

func parseBound(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return cast.ToTimeE(raw)
}
