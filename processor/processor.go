package processor

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portal-sync/metrics"
	"portal-sync/models"
)

// DefaultWatchInterval is the pause between two watch ticks
const DefaultWatchInterval = 30 * time.Second

// ErrWatchActive is returned when Watch is called while another watch runs
var ErrWatchActive = goerr.New("a watch is already running")

type portalClient interface {
	Ping(ctx context.Context) error
	Login(ctx context.Context, creds models.Credentials) (models.CookieJar, error)
	ListFiles(ctx context.Context, dir string) ([]models.FileInfo, error)
	DownloadFile(ctx context.Context, remotePath string) error
}

type cookieSaver interface {
	Save(jar models.CookieJar)
}

// Processor drives the portal client: session upkeep, date-filtered
// listings, batch downloads and the watch loop
type Processor struct {
	client        portalClient
	store         cookieSaver
	logger        *zap.Logger
	now           func() time.Time
	watchInterval time.Duration
	watching      atomic.Bool
}

// Dependencies configuration for creating a processor
type Dependencies struct {
	Client portalClient
	Store  cookieSaver
	Logger *zap.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithClock replaces time.Now for the watch boundaries
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithWatchInterval replaces the pause between watch ticks
func WithWatchInterval(d time.Duration) Option {
	return func(p *Processor) {
		p.watchInterval = d
	}
}

// NewProcessor creates a new processor
func NewProcessor(d *Dependencies, opts ...Option) *Processor {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		client:        d.Client,
		store:         d.Store,
		logger:        logger.Named("processor"),
		now:           time.Now,
		watchInterval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SyncStats download statistics of one batch
type SyncStats struct {
	TotalFiles      int
	DownloadedFiles int
	FailedFiles     int
}

// EnsureSession probes the stored session and logs in again when the portal
// rejects it. The new jar is saved only after a complete handshake.
func (p *Processor) EnsureSession(ctx context.Context, creds models.Credentials) error {
	err := p.client.Ping(ctx)
	if err == nil {
		p.logger.Info("Stored session is still valid")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.logger.Info("Session probe failed, logging in", zap.Error(err))

	if creds.Empty() {
		return goerr.New("session expired and no credentials configured")
	}

	jar, err := p.client.Login(ctx, creds)
	if err != nil {
		return goerr.Wrap(err, "failed to log in", goerr.V("username", creds.Username))
	}

	p.store.Save(jar)
	return nil
}

// ListInRange lists dir and keeps the files modified strictly between after
// and before
func (p *Processor) ListInRange(ctx context.Context, dir string, after, before time.Time) ([]models.FileInfo, error) {
	files, err := p.client.ListFiles(ctx, dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list directory", goerr.V("dir", dir))
	}

	matches := models.NewSyncWindow(after, before).Filter(files)
	for _, f := range matches {
		p.logger.Info("File",
			zap.String("name", f.Name),
			zap.Int64("size", f.Size),
			zap.Time("modified", f.ModTime),
		)
	}
	return matches, nil
}

// DownloadInRange downloads every file of dir modified strictly between
// after and before. A failed file is counted and logged; the rest of the
// batch carries on.
func (p *Processor) DownloadInRange(ctx context.Context, dir string, after, before time.Time) (*SyncStats, error) {
	files, err := p.client.ListFiles(ctx, dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list directory", goerr.V("dir", dir))
	}

	matches := models.NewSyncWindow(after, before).Filter(files)
	stats := p.downloadAll(ctx, dir, matches)

	p.logger.Info("Download completed",
		zap.String("dir", dir),
		zap.Int("total", stats.TotalFiles),
		zap.Int("downloaded", stats.DownloadedFiles),
		zap.Int("failed", stats.FailedFiles),
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Watch downloads new files of dir until ctx is cancelled. Every tick takes
// the files modified after the previous boundary, moves the boundary to the
// time the listing came back and downloads the selection.
//
// A file stamped exactly at a boundary is outside both adjacent windows: the
// comparison is strict on both sides.
func (p *Processor) Watch(ctx context.Context, dir string) error {
	if !p.watching.CompareAndSwap(false, true) {
		return ErrWatchActive
	}
	defer p.watching.Store(false)

	after := p.now()
	p.logger.Info("Watching directory",
		zap.String("dir", dir),
		zap.Duration("interval", p.watchInterval),
		zap.Time("after", after),
	)

	for {
		after = p.tick(ctx, dir, after)

		if err := sleep(ctx, p.watchInterval); err != nil {
			p.logger.Info("Watch stopped", zap.String("dir", dir))
			return nil
		}
	}
}

// sleep waits for d and reports whether ctx was cancelled meanwhile
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return ctx.Err()
}

// tick runs one watch iteration and returns the next boundary
func (p *Processor) tick(ctx context.Context, dir string, after time.Time) time.Time {
	metrics.RecordWatchTick()
	p.logger.Debug("Watch tick", zap.String("dir", dir), zap.Time("after", after))

	files, err := p.client.ListFiles(ctx, dir)
	if err != nil {
		p.logger.Error("Watch tick failed", zap.String("dir", dir), zap.Error(err))
		return after
	}

	next := after
	if now := p.now(); now.After(next) {
		next = now
	}

	matches := models.NewSyncWindow(after, models.MaxTime).Filter(files)
	if len(matches) > 0 {
		stats := p.downloadAll(ctx, dir, matches)
		p.logger.Info("Watch tick downloaded files",
			zap.String("dir", dir),
			zap.Int("downloaded", stats.DownloadedFiles),
			zap.Int("failed", stats.FailedFiles),
		)
	}
	return next
}

// downloadAll fans the files out over at most NumCPU concurrent downloads
func (p *Processor) downloadAll(ctx context.Context, dir string, files []models.FileInfo) *SyncStats {
	var downloaded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for _, f := range files {
		remotePath := remotePath(dir, f.Name)
		g.Go(func() error {
			if err := p.client.DownloadFile(ctx, remotePath); err != nil {
				p.logger.Error("Error downloading file", zap.String("file", remotePath), zap.Error(err))
				failed.Add(1)
				return nil
			}
			p.logger.Info("Downloaded file", zap.String("file", remotePath))
			downloaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return &SyncStats{
		TotalFiles:      len(files),
		DownloadedFiles: int(downloaded.Load()),
		FailedFiles:     int(failed.Load()),
	}
}

func remotePath(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}
