package clients

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"portal-sync/models"
)

// cancelAfterReads cancels its context once n reads have been served
type cancelAfterReads struct {
	r      io.Reader
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfterReads) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return n, err
}

func TestCopyBuffered(t *testing.T) {
	src := bytes.Repeat([]byte("x"), downloadBufferSize*2+5)

	var dst bytes.Buffer
	n, err := copyBuffered(context.Background(), &dst, bytes.NewReader(src))
	gt.NoError(t, err)
	gt.Equal(t, n, int64(len(src)))
	gt.Equal(t, dst.Len(), len(src))
}

func TestCopyBuffered_Cancelled(t *testing.T) {
	src := bytes.Repeat([]byte("y"), downloadBufferSize*4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dst bytes.Buffer
	reader := &cancelAfterReads{r: bytes.NewReader(src), n: 1, cancel: cancel}

	n, err := copyBuffered(ctx, &dst, reader)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, n, int64(downloadBufferSize))
	gt.Equal(t, dst.Len(), downloadBufferSize)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	copy(p, "abc")
	return 3, errors.New("connection reset")
}

func TestCopyBuffered_ReadErrorKeepsData(t *testing.T) {
	var dst bytes.Buffer
	n, err := copyBuffered(context.Background(), &dst, failingReader{})
	gt.Error(t, err)
	gt.Equal(t, n, int64(3))
	gt.Equal(t, dst.String(), "abc")
}

func TestParseListing(t *testing.T) {
	t.Run("nested files elements", func(t *testing.T) {
		doc := `<root><a><b><files><file><FileName>deep.txt</FileName><FileSize>3</FileSize></file></files></b></a>` +
			`<file><FileName>orphan.txt</FileName></file></root>`
		files, err := parseListing(strings.NewReader(doc))
		gt.NoError(t, err)
		gt.Equal(t, len(files), 1)
		gt.Equal(t, files[0].Name, "deep.txt")
		gt.Equal(t, files[0].Size, int64(3))
	})

	t.Run("plus decodes to space", func(t *testing.T) {
		doc := `<r><files><file><FileName>q1+report%2Bfinal.xlsx</FileName></file></files></r>`
		files, err := parseListing(strings.NewReader(doc))
		gt.NoError(t, err)
		gt.Equal(t, files[0].Name, "q1 report+final.xlsx")
	})

	t.Run("bad escape falls back to untitled", func(t *testing.T) {
		doc := `<r><files><file><FileName>100%</FileName></file></files></r>`
		files, err := parseListing(strings.NewReader(doc))
		gt.NoError(t, err)
		gt.Equal(t, files[0].Name, models.UntitledName)
	})

	t.Run("legacy charset", func(t *testing.T) {
		doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><r><files><file><FileName>caf\xe9.txt</FileName></file></files></r>"
		files, err := parseListing(strings.NewReader(doc))
		gt.NoError(t, err)
		gt.Equal(t, files[0].Name, "café.txt")
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := parseListing(strings.NewReader("  "))
		gt.True(t, errors.Is(err, errEmptyDocument))
	})

	t.Run("truncated document", func(t *testing.T) {
		_, err := parseListing(strings.NewReader(`<r><files><file><FileName>a</FileName>`))
		gt.Error(t, err)
	})
}

func TestAbsorbCookies(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jar := models.CookieJar{}
	jar.Set(models.Cookie{Name: "Old", Value: "1", Domain: "file.example.com", Path: "/"})

	absorbCookies(jar, "file.example.com", []*http.Cookie{
		{Name: "Session", Value: "abc", MaxAge: 3600},
		{Name: "Scoped", Value: "v", Domain: ".example.com", Path: "/app"},
		{Name: "Old", MaxAge: -1},
	}, now)

	gt.Equal(t, len(jar), 2)

	session, ok := jar.Get("Session")
	gt.True(t, ok)
	gt.Equal(t, session.Domain, "file.example.com")
	gt.Equal(t, session.Path, "/")
	gt.True(t, session.ExpiresAt.Equal(now.Add(time.Hour)))

	scoped, ok := jar.Get("Scoped")
	gt.True(t, ok)
	gt.Equal(t, scoped.Domain, ".example.com")
	gt.Equal(t, scoped.Path, "/app")

	gt.Equal(t, len(requestCookies(jar, "file.example.com")), 2)
	gt.Equal(t, len(requestCookies(jar, "other.net")), 0)
}
