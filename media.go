package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"
)

const (
	maxBaseNameLength  = 40
	maxExtensionLength = 10
	fileHashLength     = 12
)

// SanitizeFilename makes a display name safe for the filesystem: lowercase,
// transliterated, special characters stripped, base name capped. An empty or
// fully-stripped name becomes "media".
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "media"
	}

	name := filename
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		name = filename[:idx]
		ext = filename[idx+1:]
		if len(ext) > maxExtensionLength {
			ext = ext[:maxExtensionLength]
		}
		ext = slug.Make(ext)
	}

	name = slug.Make(name)
	if len(name) > maxBaseNameLength {
		name = strings.Trim(name[:maxBaseNameLength], "-")
	}
	if name == "" {
		name = "media"
	}

	if ext != "" {
		return name + "." + ext
	}
	return name
}

// UniqueFilename derives the stable local filename for an attachment. The
// hash suffix comes from the stable upstream file ID, falling back to the
// fetch URL only when no ID exists: the URL embeds a rotating auth token, so
// hashing it would defeat deduplication across runs.
func UniqueFilename(filename, fileID, url string) string {
	sanitized := SanitizeFilename(filename)

	hashSource := fileID
	if hashSource == "" {
		hashSource = url
	}
	sum := sha256.Sum256([]byte(hashSource))
	fileHash := fmt.Sprintf("%x", sum)[:fileHashLength]

	if idx := strings.LastIndex(sanitized, "."); idx >= 0 {
		return fmt.Sprintf("%s_%s.%s", sanitized[:idx], fileHash, sanitized[idx+1:])
	}
	return fmt.Sprintf("%s_%s", sanitized, fileHash)
}

// Downloader stages message attachments under a date-named directory with a
// fixed worker pool.
type Downloader struct {
	client      *http.Client
	token       string
	baseDir     string
	maxWorkers  int
	maxFileSize int64
}

// NewDownloader creates a Downloader. The token authenticates fetch URLs as a
// backup; the URLs themselves already carry a token query parameter.
func NewDownloader(token, baseDir string, maxWorkers int, maxFileSize int64) *Downloader {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	if maxFileSize <= 0 {
		maxFileSize = 100 * 1024 * 1024
	}
	return &Downloader{
		client:      &http.Client{},
		token:       token,
		baseDir:     baseDir,
		maxWorkers:  maxWorkers,
		maxFileSize: maxFileSize,
	}
}

// DownloadAll fetches every attachment of one message in parallel, bounded by
// the pool width. Results arrive in completion order, not submission
// order. A per-file failure is isolated: the other downloads keep going and
// the failed file is reported with its error. Nothing here retries.
func (d *Downloader) DownloadAll(ctx context.Context, date string, attachments []Attachment) []MediaFile {
	if len(attachments) == 0 {
		return nil
	}

	mediaDir := filepath.Join(d.baseDir, date)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxWorkers)
	resultCh := make(chan MediaFile, len(attachments))

	for _, att := range attachments {
		g.Go(func() error {
			resultCh <- d.download(ctx, mediaDir, att)
			return nil
		})
	}
	_ = g.Wait() // workers report through resultCh, never through errors
	close(resultCh)

	results := make([]MediaFile, 0, len(attachments))
	downloaded, skipped, failed := 0, 0, 0
	for mf := range resultCh {
		switch mf.Status {
		case DownloadDone:
			downloaded++
		case DownloadSkipped:
			skipped++
		case DownloadFailed:
			failed++
		}
		results = append(results, mf)
	}

	log := clog.FromContext(ctx)
	log.With("downloaded", downloaded).
		With("skipped", skipped).
		With("failed", failed).
		Infof("Processed %d attachments", len(attachments))
	for _, mf := range results {
		if mf.Status == DownloadFailed {
			log.Warnf("Failed to download %q: %v", mf.OriginalName, mf.Err)
		}
	}

	return results
}

// download moves one attachment to its terminal state.
func (d *Downloader) download(ctx context.Context, mediaDir string, att Attachment) MediaFile {
	mf := MediaFile{
		OriginalName: att.Name,
		Filename:     UniqueFilename(att.Name, att.ID, att.URL),
		Mimetype:     att.Mimetype,
		IsImage:      strings.HasPrefix(att.Mimetype, "image/"),
		IsVideo:      strings.HasPrefix(att.Mimetype, "video/"),
		Status:       DownloadPending,
	}
	mf.LocalPath = filepath.Join(mediaDir, mf.Filename)

	// The same logical file maps to the same local name even when the fetch
	// URL's token rotated, so an existing file means we already have it.
	if info, err := os.Stat(mf.LocalPath); err == nil {
		mf.Status = DownloadSkipped
		mf.Size = info.Size()
		if mf.Mimetype == "" {
			mf.Mimetype = mime.TypeByExtension(filepath.Ext(mf.Filename))
		}
		return mf
	}

	if att.URL == "" {
		mf.Status = DownloadFailed
		mf.Err = fmt.Errorf("attachment %q has no fetch URL", att.Name)
		return mf
	}

	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		mf.Status = DownloadFailed
		mf.Err = fmt.Errorf("creating media directory: %w", err)
		return mf
	}

	size, mimetype, err := d.fetch(ctx, att.URL, mf.LocalPath)
	if err != nil {
		mf.Status = DownloadFailed
		mf.Err = err
		return mf
	}

	mf.Status = DownloadDone
	mf.Size = size
	if mf.Mimetype == "" {
		mf.Mimetype = mimetype
	}
	return mf
}

// fetch downloads a URL to dest, rejecting anything over the size ceiling
// without leaving a partial file behind.
func (d *Downloader) fetch(ctx context.Context, url, dest string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	if resp.ContentLength > d.maxFileSize {
		return 0, "", fmt.Errorf("file exceeds size limit: %d > %d bytes", resp.ContentLength, d.maxFileSize)
	}

	// Stage through a temp file so an oversized or interrupted download never
	// appears at the destination path.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, d.maxFileSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", fmt.Errorf("writing media: %w", err)
	}
	if written > d.maxFileSize {
		return 0, "", fmt.Errorf("file exceeds size limit: more than %d bytes", d.maxFileSize)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return 0, "", fmt.Errorf("moving media into place: %w", err)
	}

	return written, resp.Header.Get("Content-Type"), nil
}
