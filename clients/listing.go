package clients

import (
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"portal-sync/models"
)

// epochSeconds is a FileDate value. Missing or unparsable values decode to the
// Unix epoch instead of failing the record.
type epochSeconds struct {
	time.Time
}

// UnmarshalXML implements xml.Unmarshaler interface
func (t *epochSeconds) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v string
	if err := d.DecodeElement(&v, &start); err != nil {
		return err
	}

	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		secs = 0
	}

	t.Time = time.Unix(secs, 0).UTC()
	return nil
}

// byteSize is a FileSize value, zero when missing or unparsable
type byteSize int64

// UnmarshalXML implements xml.Unmarshaler interface
func (s *byteSize) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v string
	if err := d.DecodeElement(&v, &start); err != nil {
		return err
	}

	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		n = 0
	}

	*s = byteSize(n)
	return nil
}

// fileRecord is one <file> element of the portal's listing document
type fileRecord struct {
	XMLName  xml.Name     `xml:"file"`
	FileName *string      `xml:"FileName"`
	FileSize byteSize     `xml:"FileSize"`
	FileDate epochSeconds `xml:"FileDate"`
}

func (r fileRecord) toFileInfo() models.FileInfo {
	modTime := r.FileDate.Time
	if modTime.IsZero() {
		modTime = time.Unix(0, 0).UTC()
	}

	return models.FileInfo{
		Name:    decodeName(r.FileName),
		Size:    int64(r.FileSize),
		ModTime: modTime,
	}
}

// decodeName percent-decodes a file name; "+" is treated as a space
func decodeName(raw *string) string {
	if raw == nil {
		return models.UntitledName
	}

	name, err := url.QueryUnescape(*raw)
	if err != nil || name == "" {
		return models.UntitledName
	}
	return name
}

// parseListing extracts every <file> element that is a direct child of a
// <files> element, at any depth of the document. Any structural error
// invalidates the whole document.
func parseListing(r io.Reader) ([]models.FileInfo, error) {
	d := xml.NewDecoder(r)
	d.Strict = true
	d.CharsetReader = charset.NewReaderLabel

	var (
		files   []models.FileInfo
		stack   []string
		sawRoot bool
	)

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			if el.Name.Local == "file" && len(stack) > 0 && stack[len(stack)-1] == "files" {
				var rec fileRecord
				if err := d.DecodeElement(&rec, &el); err != nil {
					return nil, err
				}
				files = append(files, rec.toFileInfo())
				continue
			}
			stack = append(stack, el.Name.Local)

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !sawRoot {
		return nil, errEmptyDocument
	}
	return files, nil
}

var errEmptyDocument = errors.New("listing document has no root element")
