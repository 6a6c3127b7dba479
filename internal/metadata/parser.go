package metadata

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/observability/metrics"
)

const componentMetadata = "metadata"

// inspectSize is how many leading bytes are inspected to detect the format
const inspectSize = 64

var (
	// ErrUnsupportedFormat is returned when no format reader recognizes the file
	ErrUnsupportedFormat = errors.NewStd("unsupported audio format")
	// ErrTruncated is returned when the file ends inside a header
	ErrTruncated = errors.NewStd("truncated audio header")
)

// GetLogger returns the metadata module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("metadata")
}

// Parser inspects audio files and caches the results by path and size
type Parser struct {
	cache   *cache.Cache
	metrics metrics.Recorder
}

// cacheSizer is implemented by recorders that track the cache size
type cacheSizer interface {
	SetCacheEntries(n int)
}

// NewParser creates a parser whose cached entries expire after ttl
func NewParser(ttl time.Duration) *Parser {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Parser{cache: cache.New(ttl, ttl*2)}
}

// SetMetrics records cache lookups and header parses to r
func (p *Parser) SetMetrics(r metrics.Recorder) {
	p.metrics = r
}

func (p *Parser) recordOperation(operation, status string) {
	if p.metrics != nil {
		p.metrics.RecordOperation(operation, status)
	}
}

func cacheKey(path string, size int64, v1First bool) string {
	return fmt.Sprintf("%s|%d|%t", path, size, v1First)
}

// Parse reads the header and tags of an audio file. r is left at an
// unspecified position. v1First prefers ID3v1 fields over ID3v2 fields when
// both are present.
func (p *Parser) Parse(r io.ReadSeeker, size int64, path string, v1First bool) (*Track, error) {
	key := cacheKey(path, size, v1First)
	if cached, ok := p.cache.Get(key); ok {
		if t, ok := cached.(*Track); ok {
			p.recordOperation(metrics.OpCacheGet, metrics.StatusHit)
			return t.Clone(), nil
		}
	}
	p.recordOperation(metrics.OpCacheGet, metrics.StatusMiss)

	start := time.Now()
	t, err := inspect(r, size, path, v1First)
	if p.metrics != nil {
		p.metrics.RecordDuration(metrics.OpInspect, time.Since(start).Seconds())
	}
	if err != nil {
		GetLogger().Debug("metadata parse failed",
			logger.String("path", path),
			logger.Error(err))
		p.recordOperation(metrics.OpInspect, metrics.StatusError)
		if p.metrics != nil {
			p.metrics.RecordError(metrics.OpInspect, inspectErrorType(err))
		}
		return nil, errors.New(fmt.Errorf("parse %s: %w", path, err)).
			Component(componentMetadata).
			Category(errors.CategoryMetadata).
			FileContext(path, size).
			Build()
	}

	p.cache.Set(key, t, cache.DefaultExpiration)
	p.recordOperation(metrics.OpInspect, metrics.StatusSuccess)
	if sizer, ok := p.metrics.(cacheSizer); ok {
		sizer.SetCacheEntries(p.cache.ItemCount())
	}
	return t.Clone(), nil
}

func inspectErrorType(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	default:
		return "io"
	}
}

// Forget drops the cached result for path
func (p *Parser) Forget(path string, size int64) {
	p.cache.Delete(cacheKey(path, size, false))
	p.cache.Delete(cacheKey(path, size, true))
}

func inspect(r io.ReadSeeker, size int64, path string, v1First bool) (*Track, error) {
	head := make([]byte, inspectSize)
	n, err := readAt(r, head, 0)
	if err != nil {
		return nil, err
	}
	head = head[:n]

	t := &Track{Path: path, FileSize: size}

	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		err = inspectWAV(r, t)
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("fLaC")):
		err = inspectFLAC(r, t)
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("OggS")):
		err = inspectVorbis(head, t)
	case len(head) >= 3 && bytes.Equal(head[0:3], []byte("ID3")), len(head) >= 2 && isFrameSync(head[0], head[1]):
		err = inspectMPEG(r, t, v1First)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	if t.Title == "" {
		t.Title = t.DisplayTitle()
	}
	return t, nil
}

// readAt reads len(p) bytes at off, returning fewer only at end of file
func readAt(r io.ReadSeeker, p []byte, off int64) (int, error) {
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}
