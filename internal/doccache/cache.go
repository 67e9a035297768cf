/*
Package doccache stores announcement attachments on disk.

Files live in a per-day partition under the cache root and are named
{subject}_{safe name}_{YYYYMMDD_HHMMSS}_{fingerprint}.pdf, where the fingerprint
is the first 8 hex characters of md5(document URI). The directory is the only
index: a hit is any file in today's partition whose name starts with the
subject and contains the fingerprint.
*/
package doccache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/shanehull/bsewatch/internal/metrics"
)

var (
	ErrFetchFailed      = errors.New("document fetch failed")
	ErrCacheWriteFailed = errors.New("document cache write failed")
	ErrNotFound         = errors.New("document not found")
)

const (
	partitionLayout = "20060102"
	stampLayout     = "20060102_150405"
	fingerprintLen  = 8
	safeNameLen     = 50
	tempPattern     = ".download-*.pdf"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

type Config struct {
	Root      string
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

type Cache struct {
	root      string
	client    *http.Client
	userAgent string
	loc       *time.Location
	now       func() time.Time
	logger    arbor.ILogger
	metrics   *metrics.Metrics

	// mu serializes partition scans against creates and renames.
	mu sync.Mutex
	// downloads collapses concurrent requests for the same subject and fingerprint.
	downloads singleflight.Group
}

func New(cfg Config, logger arbor.ILogger, m *metrics.Metrics) *Cache {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Cache{
		root:      cfg.Root,
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

func (c *Cache) Root() string { return c.root }

// Fingerprint is the short content address of a document URI.
func Fingerprint(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// SafeName maps every non-alphanumeric character to '_' and caps the length.
func SafeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	if len(s) > safeNameLen {
		s = s[:safeNameLen]
	}
	return s
}

func (c *Cache) partition(t time.Time) string {
	return filepath.Join(c.root, t.In(c.loc).Format(partitionLayout))
}

// Lookup returns today's cached copy of uri for the subject without any network call.
func (c *Cache) Lookup(uri, subjectID string) (string, bool) {
	if uri == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanLocked(c.partition(c.now()), subjectID, Fingerprint(uri))
}

func (c *Cache) scanLocked(dir, subjectID, fp string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	prefix := subjectID + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasPrefix(name, prefix) && strings.Contains(name, fp) && strings.HasSuffix(name, ".pdf") {
			return filepath.Join(dir, name), true
		}
	}
	return "", false
}

// GetOrFetch returns the cached path for uri, downloading it on a miss.
// Errors wrap ErrFetchFailed or ErrCacheWriteFailed; no partial file is left behind.
func (c *Cache) GetOrFetch(ctx context.Context, uri, subjectID, subjectName string) (string, error) {
	if strings.TrimSpace(uri) == "" {
		return "", fmt.Errorf("%w: empty document uri", ErrFetchFailed)
	}

	fp := Fingerprint(uri)
	v, err, _ := c.downloads.Do(subjectID+"_"+fp, func() (any, error) {
		dir := c.partition(c.now())

		c.mu.Lock()
		path, ok := c.scanLocked(dir, subjectID, fp)
		c.mu.Unlock()
		if ok {
			c.metrics.CacheLookup("hit")
			return path, nil
		}

		c.metrics.CacheLookup("miss")
		path, err := c.download(ctx, dir, uri, subjectID, subjectName, fp)
		if err != nil {
			c.metrics.CacheLookup("error")
			return "", err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) download(ctx context.Context, dir, uri, subjectID, subjectName, fp string) (string, error) {
	c.mu.Lock()
	err := os.MkdirAll(dir, 0o755)
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: failed to create partition %s: %w", ErrCacheWriteFailed, dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("%w: invalid document uri %s: %w", ErrFetchFailed, uri, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to download %s: %w", ErrFetchFailed, uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: received non-OK status code %d from %s", ErrFetchFailed, resp.StatusCode, uri)
	}

	// The PDF header may sit anywhere in the first 1024 bytes.
	body := bufio.NewReaderSize(resp.Body, 4096)
	head, err := body.Peek(1024)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("%w: failed to read %s: %w", ErrFetchFailed, uri, err)
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return "", fmt.Errorf("%w: %s is not a PDF", ErrFetchFailed, uri)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %w", ErrCacheWriteFailed, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: transfer of %s interrupted: %w", ErrFetchFailed, uri, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to flush %s: %w", ErrCacheWriteFailed, tmpName, err)
	}

	pages := 0
	if pdfCtx, err := api.ReadContextFile(tmpName); err != nil {
		c.logger.Warn().Err(err).Str("uri", uri).Msg("Downloaded document failed PDF structure check, keeping it")
	} else {
		pages = pdfCtx.PageCount
	}

	stamp := c.now().In(c.loc).Format(stampLayout)
	final := filepath.Join(dir, fmt.Sprintf("%s_%s_%s_%s.pdf", subjectID, SafeName(subjectName), stamp, fp))

	c.mu.Lock()
	err = os.Rename(tmpName, final)
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: failed to commit %s: %w", ErrCacheWriteFailed, final, err)
	}
	committed = true

	c.logger.Info().
		Str("subject_id", subjectID).
		Str("path", final).
		Int64("bytes", written).
		Int("pages", pages).
		Msg("Document cached")
	return final, nil
}

// Resolve maps a path relative to the cache root to a cached file.
// Anything escaping the root, or not a regular file, is ErrNotFound.
func (c *Cache) Resolve(rel string) (string, error) {
	rel = filepath.FromSlash(strings.TrimPrefix(rel, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", ErrNotFound
	}

	path := filepath.Join(c.root, rel)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// RelPath is the inverse of Resolve, used to build download links.
func (c *Cache) RelPath(path string) (string, error) {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s is outside the cache root", path)
	}
	return filepath.ToSlash(rel), nil
}
