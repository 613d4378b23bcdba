// Package snapshot saves rendered frames to disk as PNG, JPEG or BMP.
package snapshot

import (
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/bmp"

	"github.com/e7canasta/orion-viewer/modules/frame"
)

// ErrUnsupportedFormat is returned for formats other than png, jpeg and bmp.
var ErrUnsupportedFormat = errors.New("snapshot: unsupported format")

const (
	filePrefix = "frame_"
	timeLayout = "20060102_150405.000000"
)

// Config contains saver settings.
type Config struct {
	Dir      string
	Format   string        // png, jpeg (jpg), bmp
	Interval time.Duration // minimum time between saves (0 = every offered frame)
	Quality  int           // jpeg quality 1-100
	MaxFiles int           // oldest snapshots are removed beyond this (0 = unlimited)
}

// Saver writes images to Config.Dir. Safe for concurrent use.
type Saver struct {
	cfg Config
	ext string

	mu       sync.Mutex
	lastSave time.Time

	framesSaved   atomic.Uint64
	framesSkipped atomic.Uint64
	framesFailed  atomic.Uint64
	filesRemoved  atomic.Uint64
}

// Stats contains save statistics
type Stats struct {
	Saved   uint64
	Skipped uint64 // offered within Interval of the previous save
	Failed  uint64
	Removed uint64 // pruned by MaxFiles
}

// NewSaver creates a saver, creating Dir if needed.
func NewSaver(cfg Config) (*Saver, error) {
	ext, err := extension(cfg.Format)
	if err != nil {
		return nil, err
	}
	if ext == "jpg" && (cfg.Quality < 1 || cfg.Quality > 100) {
		return nil, fmt.Errorf("snapshot: jpeg quality must be 1-100, got %d", cfg.Quality)
	}
	if cfg.Interval < 0 || cfg.MaxFiles < 0 {
		return nil, fmt.Errorf("snapshot: interval and max files must not be negative")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: failed to create output directory: %w", err)
	}

	return &Saver{cfg: cfg, ext: ext}, nil
}

func extension(format string) (string, error) {
	switch format {
	case "png", "bmp":
		return format, nil
	case "jpeg", "jpg":
		return "jpg", nil
	default:
		return "", fmt.Errorf("%w: %q (must be png, jpeg or bmp)", ErrUnsupportedFormat, format)
	}
}

// Offer saves img unless the previous save was less than Interval ago.
// It reports whether the image was written.
func (s *Saver) Offer(img *frame.Image, now time.Time) (bool, error) {
	s.mu.Lock()
	if !s.lastSave.IsZero() && now.Sub(s.lastSave) < s.cfg.Interval {
		s.mu.Unlock()
		s.framesSkipped.Add(1)
		return false, nil
	}
	s.lastSave = now
	s.mu.Unlock()

	if _, err := s.Save(img); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes img and returns the file path.
//
// Filename format: frame_{utc timestamp}_{seq:08d}[_tc{timecode}].{ext}
// The timestamp leads because sequence numbers restart on every connection.
func (s *Saver) Save(img *frame.Image) (string, error) {
	path := filepath.Join(s.cfg.Dir, s.fileName(img))

	if err := s.write(path, img); err != nil {
		s.framesFailed.Add(1)
		return "", err
	}
	s.framesSaved.Add(1)

	slog.Debug("snapshot: saved", "path", path, "seq", img.Seq, "timecode", img.Timecode, "trace_id", img.TraceID)

	if s.cfg.MaxFiles > 0 {
		if err := s.prune(); err != nil {
			slog.Warn("snapshot: prune failed", "dir", s.cfg.Dir, "error", err)
		}
	}
	return path, nil
}

func (s *Saver) fileName(img *frame.Image) string {
	ts := img.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("%s%s_%08d", filePrefix, ts.UTC().Format(timeLayout), img.Seq)
	if img.Timecode != 0 {
		name += fmt.Sprintf("_tc%d", img.Timecode)
	}
	return name + "." + s.ext
}

func (s *Saver) write(path string, img *frame.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("snapshot: close %s: %w", path, cerr)
		}
	}()

	rgba := img.RGBA()
	switch s.ext {
	case "png":
		err = png.Encode(f, rgba)
	case "jpg":
		err = jpeg.Encode(f, rgba, &jpeg.Options{Quality: s.cfg.Quality})
	case "bmp":
		err = bmp.Encode(f, rgba)
	}
	if err != nil {
		return fmt.Errorf("snapshot: %s encode failed: %w", s.cfg.Format, err)
	}
	return nil
}

// prune removes the oldest snapshots beyond MaxFiles. Names lead with a
// fixed-width UTC timestamp, so lexical order is capture order across
// reconnects and restarts.
func (s *Saver) prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), "."+s.ext) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.cfg.MaxFiles {
		return nil
	}

	sort.Strings(names)
	var errs []error
	for _, name := range names[:len(names)-s.cfg.MaxFiles] {
		if err := os.Remove(filepath.Join(s.cfg.Dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.filesRemoved.Add(1)
	}
	return errors.Join(errs...)
}

// Stats returns current save statistics.
func (s *Saver) Stats() Stats {
	return Stats{
		Saved:   s.framesSaved.Load(),
		Skipped: s.framesSkipped.Load(),
		Failed:  s.framesFailed.Load(),
		Removed: s.filesRemoved.Load(),
	}
}
