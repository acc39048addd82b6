package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"realty_ingest/config"
	"realty_ingest/storage"
)

// Source opens one feed document for reading.
type Source interface {
	ID() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ObjectOpener is the part of the S3 client a source needs.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Deps are the shared clients sources are built from.
type Deps struct {
	HTTP *http.Client
	S3   ObjectOpener
}

func New(feedCfg *config.FeedConfig, deps Deps) (Source, error) {
	switch feedCfg.Kind {
	case config.KindFile, "":
		return &FileSource{id: feedCfg.ID, path: feedCfg.Location}, nil
	case config.KindHTTP:
		client := deps.HTTP
		if client == nil {
			client = http.DefaultClient
		}
		return &HTTPSource{id: feedCfg.ID, url: feedCfg.Location, headers: feedCfg.Headers, client: client}, nil
	case config.KindS3:
		if deps.S3 == nil {
			return nil, fmt.Errorf("feed %s: s3 is not configured", feedCfg.ID)
		}
		bucket, key, err := storage.ParseS3URL(feedCfg.Location)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feedCfg.ID, err)
		}
		return &S3Source{id: feedCfg.ID, bucket: bucket, key: key, opener: deps.S3}, nil
	default:
		return nil, fmt.Errorf("feed %s: unknown kind %q", feedCfg.ID, feedCfg.Kind)
	}
}

// =============================================================================
// File
// =============================================================================

type FileSource struct {
	id   string
	path string
}

func NewFileSource(id, path string) *FileSource {
	return &FileSource{id: id, path: path}
}

func (s *FileSource) ID() string { return s.id }

func (s *FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open feed file: %w", err)
	}
	rc, err := maybeGunzip(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open feed file %s: %w", s.path, err)
	}
	return rc, nil
}

// =============================================================================
// HTTP
// =============================================================================

type HTTPSource struct {
	id      string
	url     string
	headers map[string]string
	client  *http.Client
}

func (s *HTTPSource) ID() string { return s.id }

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("fetch feed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	rc, err := maybeGunzip(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return rc, nil
}

// =============================================================================
// S3
// =============================================================================

type S3Source struct {
	id     string
	bucket string
	key    string
	opener ObjectOpener
}

func (s *S3Source) ID() string { return s.id }

func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	body, err := s.opener.Open(ctx, s.bucket, s.key)
	if err != nil {
		return nil, err
	}
	rc, err := maybeGunzip(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("open s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return rc, nil
}

// =============================================================================
// Compression
// =============================================================================

// maybeGunzip sniffs the gzip magic bytes and transparently decompresses.
func maybeGunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error {
			zr.Close()
			return rc.Close()
		}}, nil
	}
	return &readCloser{Reader: br, close: rc.Close}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }
