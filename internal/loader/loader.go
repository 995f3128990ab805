// Package loader turns ingestion sources (files, directories, URLs) into documents.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	docIDPrefix     = "doc:"
	maxFetchBytes   = 10 << 20
	userAgent       = "kotae/1.0 (+https://github.com/hyperjump/kotae)"
	defaultFetchTTL = 30 * time.Second
)

var (
	// ErrUnsupported is returned for a file whose extension is not enabled.
	ErrUnsupported = errors.New("unsupported document format")
	// ErrTooLarge is returned for a URL whose body exceeds the fetch limit.
	ErrTooLarge = errors.New("document exceeds fetch size limit")
)

// DefaultExtensions are the formats the loader can extract.
var DefaultExtensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".odt", ".rtf", ".html", ".htm"}

// Loader reads sources into documents.
type Loader struct {
	extensions map[string]struct{}
	recursive  bool
	client     *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtensions limits directory walks and file loads to the given extensions.
func WithExtensions(exts []string) Option {
	return func(l *Loader) {
		if len(exts) == 0 {
			return
		}
		l.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			l.extensions[e] = struct{}{}
		}
	}
}

// WithRecursive controls whether directory walks descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(l *Loader) { l.recursive = recursive }
}

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithMaxFetchBytes limits the size of a URL body. Larger bodies fail with ErrTooLarge.
func WithMaxFetchBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = utils.LoggerOrNop(logger) }
}

// New returns a Loader with all supported formats enabled and recursive walks.
func New(opts ...Option) *Loader {
	l := &Loader{
		recursive: true,
		client:    &http.Client{Timeout: defaultFetchTTL},
		maxBytes:  maxFetchBytes,
		logger:    zap.NewNop(),
	}
	WithExtensions(DefaultExtensions)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DocumentID returns a stable document id for a source. Paths are cleaned
// first so equivalent spellings of a path share an id.
func DocumentID(source string) string {
	if !isURL(source) {
		source = filepath.Clean(source)
	}
	hash := sha256.Sum256([]byte(source))
	return docIDPrefix + hex.EncodeToString(hash[:])
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Load reads source and returns its documents. A directory yields one document
// per supported file; files that fail to extract are logged and skipped.
// Documents with no text are dropped.
func (l *Loader) Load(ctx context.Context, source string) ([]*models.Document, error) {
	if isURL(source) {
		doc, err := l.fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		return nonEmpty(doc), nil
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", source, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", source, err)
	}
	if !info.IsDir() {
		doc, err := l.loadFile(abs)
		if err != nil {
			return nil, err
		}
		docs := nonEmpty(doc)
		if len(docs) == 0 {
			l.logger.Debug("Skipping empty document", zap.String("path", abs))
		}
		return docs, nil
	}
	return l.walk(ctx, abs)
}

func nonEmpty(doc *models.Document) []*models.Document {
	if doc == nil || strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	return []*models.Document{doc}
}

func (l *Loader) walk(ctx context.Context, root string) ([]*models.Document, error) {
	var docs []*models.Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && (!l.recursive || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if !l.supported(path) {
			return nil
		}
		doc, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("Failed to extract document", zap.String("path", path), zap.Error(err))
			return nil
		}
		if kept := nonEmpty(doc); len(kept) > 0 {
			docs = append(docs, kept...)
		} else {
			l.logger.Debug("Skipping empty document", zap.String("path", path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (l *Loader) supported(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (l *Loader) loadFile(path string) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !l.supported(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	text, err := extractBytes(content, ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc := newDocument(path, filepath.Base(path), strings.TrimPrefix(ext, "."), text)
	doc.Metadata["path"] = path
	return doc, nil
}

func (l *Loader) fetch(ctx context.Context, url string) (*models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength > l.maxBytes {
		return nil, fmt.Errorf("fetch %s: %d bytes: %w", url, resp.ContentLength, ErrTooLarge)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("fetch %s: more than %d bytes: %w", url, l.maxBytes, ErrTooLarge)
	}

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	var title, text string
	switch format {
	case "html":
		title, text, err = extractHTML(body)
	case "pdf":
		text, err = extractPDF(body)
	default:
		text, err = extractPlain(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	if title == "" {
		title = url
	}
	doc := newDocument(url, title, format, text)
	doc.Metadata["url"] = url
	return doc, nil
}

func formatFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return "html"
	case strings.Contains(ct, "application/pdf"):
		return "pdf"
	default:
		return "txt"
	}
}

func newDocument(source, title, format, text string) *models.Document {
	return &models.Document{
		ID:     DocumentID(source),
		Source: source,
		Title:  title,
		Text:   text,
		Metadata: map[string]string{
			"format": format,
			"title":  title,
		},
		CreatedAt: time.Now().UTC(),
	}
}
