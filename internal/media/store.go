// Package media stores message attachments on disk and serves them by URL.
// Objects land in a content-type-derived folder under a randomized unique
// name, mirroring the bucket layout of the hosted object store this replaces.
package media

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store writes media objects below dir and builds public URLs from baseURL.
type Store struct {
	dir     string
	baseURL string
	logger  *zap.Logger
}

// New creates a media store rooted at dir. baseURL is the externally
// reachable prefix (scheme://host[:port]) media URLs are built from.
func New(dir, baseURL string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Dir returns the root directory media objects are stored under.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the object and returns its public URL. The file name is a
// fresh UUID with an extension derived from the original name or the MIME
// type.
func (s *Store) Save(data []byte, mimeType, fileName string) (string, error) {
	folder := folderFor(mimeType)
	if err := os.MkdirAll(filepath.Join(s.dir, folder), 0700); err != nil {
		return "", fmt.Errorf("create media folder: %w", err)
	}

	name := uuid.New().String() + extensionFor(mimeType, fileName)
	path := filepath.Join(s.dir, folder, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write media object: %w", err)
	}

	url := s.baseURL + "/media/" + folder + "/" + name
	s.logger.Info("media stored",
		zap.String("folder", folder),
		zap.String("name", name),
		zap.Int("bytes", len(data)))
	return url, nil
}

// folderFor maps a MIME type to its storage folder.
func folderFor(mimeType string) string {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image", "video", "audio":
		return major
	default:
		return "files"
	}
}

// extensionFor prefers the original file extension and falls back to one
// registered for the MIME type.
func extensionFor(mimeType, fileName string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
