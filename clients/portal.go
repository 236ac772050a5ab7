package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"portal-sync/metrics"
	"portal-sync/models"
)

const (
	// DefaultDownloadDir is where downloaded files land unless configured
	DefaultDownloadDir = "downloads"

	downloadBufferSize = 128 * 1024
)

// StatusError is returned when the portal answers with a non-success status
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: status %d", e.Op, e.Status)
}

// PortalClient client for a file portal behind an SSO gateway.
//
// The session jar is written only by Login; every other call reads it.
// Login must not run concurrently with List or Download calls.
type PortalClient struct {
	proto       Protocol
	client      *resty.Client
	logger      *zap.Logger
	fs          afero.Fs
	downloadDir string
	now         func() time.Time
	session     models.CookieJar
}

// Option configures a PortalClient
type Option func(*PortalClient)

// WithSession starts the client with a previously persisted cookie jar
func WithSession(jar models.CookieJar) Option {
	return func(c *PortalClient) {
		if jar != nil {
			c.session = jar.Clone()
		}
	}
}

// WithDownloadDir sets the file system and directory downloads are written to
func WithDownloadDir(fs afero.Fs, dir string) Option {
	return func(c *PortalClient) {
		c.fs = fs
		if dir != "" {
			c.downloadDir = dir
		}
	}
}

// WithClock replaces time.Now for the Sync cache-busting parameters
func WithClock(now func() time.Time) Option {
	return func(c *PortalClient) {
		c.now = now
	}
}

// NewPortalClient creates a new portal client for proto
func NewPortalClient(proto Protocol, logger *zap.Logger, opts ...Option) (*PortalClient, error) {
	if err := proto.Validate(); err != nil {
		return nil, err
	}
	if proto.UserAgent == "" {
		proto.UserAgent = DefaultUserAgent
	}

	logger = logger.Named("portal").With(zap.String("vendor", proto.Name))

	client := resty.New()
	client.SetDisableWarn(true)
	client.SetLogger(logger.Sugar())
	// Cookies are tracked by hand: the handshake needs its own throwaway jar.
	client.SetCookieJar(nil)
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	client.SetHeader("User-Agent", proto.UserAgent)

	c := &PortalClient{
		proto:       proto,
		client:      client,
		logger:      logger,
		fs:          afero.NewOsFs(),
		downloadDir: DefaultDownloadDir,
		now:         time.Now,
		session:     models.CookieJar{},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Session returns a copy of the current session cookies
func (c *PortalClient) Session() models.CookieJar {
	return c.session.Clone()
}

// Protocol returns the protocol the client speaks
func (c *PortalClient) Protocol() Protocol {
	return c.proto
}

// Ping checks that the current session is still accepted by the portal
func (c *PortalClient) Ping(ctx context.Context) error {
	resp, err := c.request(ctx).
		SetQueryParam("Command", "NOOP").
		SetQueryParam("Sync", c.syncStamp()).
		Post(c.proto.portalEndpoint(c.proto.PingPath))
	if err != nil {
		return goerr.Wrap(err, "failed to ping portal")
	}

	if resp.StatusCode() != http.StatusOK {
		return &StatusError{Op: "ping", Status: resp.StatusCode()}
	}

	return nil
}

// ListFiles gets list of files in folder. A rejected request or a malformed
// document is logged and yields an empty list; only transport failures and
// cancellation are returned as errors.
func (c *PortalClient) ListFiles(ctx context.Context, dir string) ([]models.FileInfo, error) {
	resp, err := c.request(ctx).
		SetQueryParam("Command", "List").
		SetQueryParam("Dir", dir).
		SetQueryParam("sync", c.syncStamp()).
		Get(c.proto.portalEndpoint(c.proto.ListPath))
	if err != nil {
		metrics.RecordListing(false, 0)
		return nil, goerr.Wrap(err, "failed to list files", goerr.V("dir", dir))
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("Could not list directory",
			zap.String("dir", dir),
			zap.Int("status", resp.StatusCode()),
		)
		metrics.RecordListing(false, 0)
		return []models.FileInfo{}, nil
	}

	files, err := parseListing(bytes.NewReader(resp.Body()))
	if err != nil {
		c.logger.Error("Could not parse directory listing", zap.String("dir", dir), zap.Error(err))
		metrics.RecordListing(false, 0)
		return []models.FileInfo{}, nil
	}

	metrics.RecordListing(true, len(files))
	c.logger.Debug("Listed directory", zap.String("dir", dir), zap.Int("files", len(files)))
	if files == nil {
		files = []models.FileInfo{}
	}
	return files, nil
}

// DownloadFile streams remotePath into the download directory, keeping the
// remote base name. Cancellation is checked before every buffered read;
// whatever was read before it is still written, so a cancelled download leaves
// a truncated file behind.
func (c *PortalClient) DownloadFile(ctx context.Context, remotePath string) error {
	resp, err := c.request(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("Command", "Download").
		SetQueryParam("File", remotePath).
		Get(c.proto.portalEndpoint(c.proto.DownloadPath))
	if err != nil {
		metrics.RecordDownload(0, false)
		return goerr.Wrap(err, "failed to download file", goerr.V("file", remotePath))
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("Server returned error requesting file",
			zap.String("file", remotePath),
			zap.Int("status", resp.StatusCode()),
		)
		metrics.RecordDownload(0, false)
		return &StatusError{Op: "download", Status: resp.StatusCode()}
	}

	if err := c.fs.MkdirAll(c.downloadDir, 0755); err != nil {
		metrics.RecordDownload(0, false)
		return goerr.Wrap(err, "failed to create download directory", goerr.V("dir", c.downloadDir))
	}

	dest := filepath.Join(c.downloadDir, path.Base(remotePath))
	f, err := c.fs.Create(dest)
	if err != nil {
		metrics.RecordDownload(0, false)
		return goerr.Wrap(err, "failed to create local file", goerr.V("path", dest))
	}
	defer f.Close()

	written, err := copyBuffered(ctx, f, body)
	metrics.RecordDownload(written, err == nil)
	if err != nil {
		return goerr.Wrap(err, "failed to save file",
			goerr.V("file", remotePath), goerr.V("path", dest), goerr.V("written", written))
	}

	c.logger.Debug("Downloaded file",
		zap.String("file", remotePath),
		zap.String("path", dest),
		zap.Int64("bytes", written),
	)
	return nil
}

// copyBuffered copies src to dst in fixed-size reads, checking ctx before
// each read
func copyBuffered(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, downloadBufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// request starts a portal request carrying the session cookies
func (c *PortalClient) request(ctx context.Context) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetCookies(requestCookies(c.session, c.proto.portalHost()))
}

func (c *PortalClient) syncStamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}
