package stream

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// SaveOption configures [Response.SaveTo].
type SaveOption func(*saveOptions) error

type saveOptions struct {
	checksum     *checksumVerifier
	progress     bool
	skipExisting bool
}

// WithChecksum verifies the saved body against expected, the hex-encoded
// digest produced by h.
func WithChecksum(h hash.Hash, expected string) SaveOption {
	return func(opts *saveOptions) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

// WithProgress logs transfer progress at most once per second.
func WithProgress() SaveOption {
	return func(opts *saveOptions) error {
		opts.progress = true
		return nil
	}
}

// WithSkipExisting makes SaveTo abandon the body and return nil when
// destPath already exists.
func WithSkipExisting() SaveOption {
	return func(opts *saveOptions) error {
		opts.skipExisting = true
		return nil
	}
}

// SaveTo streams the body into a temp file next to destPath and renames it
// into place once the body is complete and verified. The temp file is
// removed on any failure.
func (r *Response) SaveTo(ctx context.Context, destPath string, optFns ...SaveOption) error {
	if destPath == "" {
		return errors.New("destination path must not be empty")
	}

	var opts saveOptions
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return fmt.Errorf("applying option: %w", err)
		}
	}

	if opts.skipExisting {
		if _, err := os.Stat(destPath); err == nil {
			r.logger.Info("skipping existing file", "path", destPath)
			r.abandon()
			return nil
		}
	}

	file, err := os.CreateTemp(filepath.Dir(destPath), ".asynchttp-*")
	if err != nil {
		r.abandon()
		return fmt.Errorf("creating temp file: %w", err)
	}

	var saved bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.logger.Error("defer closing temp file", "error", err)
		}
		if !saved {
			if err := os.Remove(file.Name()); err != nil {
				r.logger.Error("removing temp file", "error", err)
			}
		}
	}()

	var w io.Writer = file
	if opts.checksum != nil {
		w = io.MultiWriter(w, opts.checksum)
	}
	if opts.progress {
		w = &progressWriter{
			w:         w,
			logger:    r.logger,
			total:     r.ContentLength,
			startTime: time.Now(),
		}
	}

	var n int64
	for chunk, err := range r.seq(ctx) {
		if err != nil {
			return err
		}
		written, err := w.Write(chunk)
		n += int64(written)
		if err != nil {
			return fmt.Errorf("writing temp file: %w", err)
		}
	}

	if r.ContentLength >= 0 && n != r.ContentLength {
		return &Error{
			Err:    ErrContentLengthMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", r.ContentLength, n),
		}
	}

	if err := opts.checksum.verify(); err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	saved = true

	return nil
}

// abandon gives up on an unread body.
func (r *Response) abandon() {
	if r.consumed.CompareAndSwap(false, true) {
		r.cancel(ErrCancelled)
	}
}

type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *checksumVerifier) verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return &Error{
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("expected %s, got %s", v.expected, actual),
		}
	}

	return nil
}

// progressWriter logs transfer progress at most once per second.
type progressWriter struct {
	w           io.Writer
	logger      *slog.Logger
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.transferred += int64(n)

	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		pw.log("receiving body")
	}

	if pw.total >= 0 && pw.transferred == pw.total {
		pw.log("body complete")
	}

	return n, err
}

func (pw *progressWriter) log(msg string) {
	elapsed := time.Since(pw.startTime)
	attrs := []any{
		"transferred", pw.transferred,
		"elapsed", elapsed.Round(time.Millisecond),
		"mbps", fmt.Sprintf("%.2f", float64(pw.transferred)/elapsed.Seconds()/(1024*1024)),
	}
	if pw.total > 0 {
		attrs = append(attrs,
			"total", pw.total,
			"progress", fmt.Sprintf("%.1f%%", float64(pw.transferred)/float64(pw.total)*100),
		)
	}
	pw.logger.Info(msg, attrs...)
}
