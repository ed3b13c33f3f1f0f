package classvault

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ArtifactInfo describes one stored artifact.
type ArtifactInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ArtifactStore persists encoded artifacts that are too large to travel
// inline. Content is stored verbatim: the codec already decided on
// compression and the stored bytes must hash to the advertised checksum.
type ArtifactStore interface {
	WriteArtifact(ctx context.Context, name string, content []byte) error
	OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error)
	ListArtifacts(ctx context.Context, limit int, prefix string) ([]ArtifactInfo, error)
	ArtifactURL(name string) string
}

func SetupArtifactStore(ctx context.Context, baseURL string) (ArtifactStore, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	switch base.Scheme {
	case "file", "":
		return NewFSStore(base)
	case "gs":
		return NewGSStore(ctx, base)
	}
	return nil, fmt.Errorf("unsupported artifact store scheme %q", base.Scheme)
}

//
// Google Storage artifact store
//

type GSStore struct {
	baseURL *url.URL
	client  *storage.Client
}

func NewGSStore(ctx context.Context, baseURL *url.URL) (*GSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &GSStore{
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (s *GSStore) objectPath(name string) string {
	return path.Join(strings.TrimLeft(s.baseURL.Path, "/"), name)
}

func (s *GSStore) basePrefix() string {
	prefix := strings.TrimLeft(s.baseURL.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (s *GSStore) WriteArtifact(ctx context.Context, name string, content []byte) error {
	w := s.client.Bucket(s.baseURL.Host).Object(s.objectPath(name)).NewWriter(ctx)
	w.ContentType = contentTypeForName(name)
	w.CacheControl = "private, max-age=0"

	if _, err := w.Write(content); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *GSStore) OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.client.Bucket(s.baseURL.Host).Object(s.objectPath(name)).NewReader(ctx)
}

func (s *GSStore) ListArtifacts(ctx context.Context, limit int, prefix string) (out []ArtifactInfo, err error) {
	basePrefix := s.basePrefix()

	iter := s.client.Bucket(s.baseURL.Host).Objects(ctx, &storage.Query{Prefix: basePrefix + prefix})
	for {
		objAttrs, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		out = append(out, ArtifactInfo{
			Name:      strings.TrimPrefix(objAttrs.Name, basePrefix),
			SizeBytes: objAttrs.Size,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *GSStore) ArtifactURL(name string) string {
	return fmt.Sprintf("gs://%s", path.Join(s.baseURL.Host, s.objectPath(name)))
}

//
// File system artifact store
//

type FSStore struct {
	baseURL *url.URL
}

func NewFSStore(baseURL *url.URL) (*FSStore, error) {
	if baseURL.Scheme != "file" && baseURL.Scheme != "" {
		return nil, fmt.Errorf("invalid filesystem store scheme %q", baseURL.Scheme)
	}

	if !strings.HasPrefix(baseURL.Path, "/") {
		abs, err := filepath.Abs(baseURL.Path)
		if err != nil {
			return nil, err
		}
		baseURL.Path = abs
	}

	if err := os.MkdirAll(baseURL.Path, 0755); err != nil {
		return nil, err
	}

	return &FSStore{baseURL: baseURL}, nil
}

func (s *FSStore) artifactPath(name string) string {
	return filepath.Join(s.baseURL.Path, name)
}

func (s *FSStore) WriteArtifact(ctx context.Context, name string, content []byte) error {
	return os.WriteFile(s.artifactPath(name), content, 0644)
}

func (s *FSStore) OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(s.artifactPath(name))
}

func (s *FSStore) ListArtifacts(ctx context.Context, limit int, prefix string) (out []ArtifactInfo, err error) {
	entries, err := os.ReadDir(s.baseURL.Path)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		out = append(out, ArtifactInfo{Name: entry.Name(), SizeBytes: info.Size()})
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *FSStore) ArtifactURL(name string) string {
	return fmt.Sprintf("file://%s", s.artifactPath(name))
}

func contentTypeForName(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return contentTypeGzip
	}
	return contentTypeJSON
}
