package moodle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/shared/digest"
)

// sniffLen is how much of each file is inspected to detect its type
const sniffLen = 3072

// precompressed types gain nothing from deflate and are stored as is
var precompressed = map[string]bool{
	"application/zip":              true,
	"application/gzip":             true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/zstd":             true,
	"image/jpeg":                   true,
	"image/png":                    true,
	"image/gif":                    true,
	"image/webp":                   true,
	"video/mp4":                    true,
	"video/webm":                   true,
	"audio/mpeg":                   true,
	"audio/mp4":                    true,
}

// DownloadFilesIntoZIP fetches every planned file into {OutputDir}/filename.
// The archive is written to a temporary file and renamed into place, so a
// failed download never leaves a truncated ZIP behind.
func (c *Client) DownloadFilesIntoZIP(ctx context.Context, onProgress backend.ProgressFunc, filename string) (*backend.Archive, error) {
	c.mu.RLock()
	p, token := c.plan, c.token
	c.mu.RUnlock()

	if p == nil {
		return nil, ErrNoPlan
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	name, err := archiveFileName(filename)
	if err != nil {
		return nil, err
	}
	report := func(percent float64) {
		if onProgress != nil {
			onProgress(percent)
		}
	}

	outputDir := c.opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	target := filepath.Join(outputDir, name)

	tmp, err := os.CreateTemp(outputDir, "."+name+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	hasher := digest.New(digest.BLAKE2b)
	zw := zip.NewWriter(io.MultiWriter(tmp, hasher))
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	total := len(p.entries)
	if total == 0 {
		report(100)
	}
	for i, e := range p.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.fetchInto(ctx, zw, e, token); err != nil {
			return nil, err
		}
		report(float64(i+1) * 100 / float64(total))
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	committed = true

	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}

	c.logger.Info("Archive written",
		zap.String("path", abs),
		zap.Int("files", total),
		zap.Int64("bytes", info.Size()),
	)
	return &backend.Archive{
		Name:    name,
		Path:    abs,
		Files:   total,
		Bytes:   info.Size(),
		Digest:  hasher.Sum(),
		Skipped: slices.Clone(p.skipped),
	}, nil
}

// fetchInto streams one file into the archive
func (c *Client) fetchInto(ctx context.Context, zw *zip.Writer, e entry, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	fileURL, err := c.fileURL(e.URL, token)
	if err != nil {
		return fmt.Errorf("invalid file URL for %s: %w", e.Path, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", e.Path, scrub(err))
	}
	req.Header.Set("User-Agent", c.resty.Header.Get("User-Agent"))

	resp, err := c.fetcher.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("failed to fetch %s: %w", e.Path, scrub(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to fetch %s: %s", e.Path, resp.Status)
	}

	body := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := body.Peek(sniffLen)
	mtype := mimetype.Detect(head)

	// A JSON body where a file was expected is the LMS refusing the download
	if mtype.Is("application/json") && !strings.EqualFold(path.Ext(e.Path), ".json") {
		raw, _ := io.ReadAll(io.LimitReader(body, 1<<16))
		if apiErr := decodeException("pluginfile", raw); apiErr != nil {
			return apiErr
		}
		body = bufio.NewReaderSize(io.MultiReader(bytes.NewReader(raw), body), sniffLen)
	}

	name := e.Path
	if path.Ext(name) == "" {
		name += mtype.Extension()
	}
	method := zip.Deflate
	if isPrecompressed(mtype) {
		method = zip.Store
	}
	header := &zip.FileHeader{Name: name, Method: method}
	if !e.Modified.IsZero() {
		header.Modified = e.Modified
	}

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", e.Path, scrub(err))
	}
	return nil
}

func isPrecompressed(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if precompressed[m.String()] {
			return true
		}
	}
	return false
}

// archiveFileName accepts a bare file name only
func archiveFileName(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid archive name %q", filename)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name, nil
}
