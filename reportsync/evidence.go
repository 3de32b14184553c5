package reportsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whispr/api"
	"whispr/common/image"

	"github.com/apex/log"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// File is an evidence file waiting to be encoded. Open is called once, from
// its own goroutine.
type File struct {
	Name         string
	Type         string
	Size         int64
	LastModified time.Time
	Open         func() (io.ReadCloser, error)
}

func FileFromBytes(name, contentType string, data []byte, modified time.Time) File {
	return File{
		Name:         name,
		Type:         contentType,
		Size:         int64(len(data)),
		LastModified: modified,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func FileFromPath(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name:         filepath.Base(path),
		Size:         st.Size(),
		LastModified: st.ModTime(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// encodeEvidence turns every file into an inline data URL. All files are
// encoded concurrently; the first failure cancels the rest and fails the
// whole batch. Output order matches input order.
func (c *Client) encodeEvidence(ctx context.Context, files []File) ([]api.EvidenceFile, error) {
	out := make([]api.EvidenceFile, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i := range files {
		i, f := i, files[i]
		g.Go(func() error {
			ef, err := c.encodeFile(ctx, f)
			if err != nil {
				return fmt.Errorf("evidence %q: %w", f.Name, err)
			}
			out[i] = ef
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) encodeFile(ctx context.Context, f File) (api.EvidenceFile, error) {
	if f.Open == nil {
		return api.EvidenceFile{}, fmt.Errorf("no content")
	}
	r, err := f.Open()
	if err != nil {
		return api.EvidenceFile{}, err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxEvidenceSize+1))
	if err != nil {
		return api.EvidenceFile{}, err
	}
	if int64(len(data)) > c.cfg.MaxEvidenceSize {
		return api.EvidenceFile{}, &ValidationError{
			Field:  "evidence_files",
			Reason: fmt.Sprintf("%s is larger than %d bytes", f.Name, c.cfg.MaxEvidenceSize),
		}
	}
	if err := ctx.Err(); err != nil {
		return api.EvidenceFile{}, err
	}

	contentType := f.Type
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	payload := data
	if c.cfg.MaxImageDimension > 0 && strings.HasPrefix(contentType, "image/") {
		shrunk, shrunkType, err := image.Shrink(data, c.cfg.MaxImageDimension)
		if err != nil {
			log.Warnf("Keeping evidence %q as is: %v", f.Name, err)
		} else if shrunkType != "" {
			payload, contentType = shrunk, shrunkType
		}
	}

	var lastModified int64
	if !f.LastModified.IsZero() {
		lastModified = f.LastModified.UnixMilli()
	}
	return api.EvidenceFile{
		Name:           f.Name,
		Type:           contentType,
		Size:           int64(len(data)),
		EncodedContent: dataURL(contentType, payload),
		LastModified:   lastModified,
	}, nil
}

func dataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the bytes and content type held by an encoded
// evidence file.
func DecodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return []byte(payload), contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}
