// Package wasm fetches, verifies and caches the token contract module.
package wasm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"launchpad/internal/apperror"
	"launchpad/internal/metrics"
	"launchpad/internal/retry"
)

const (
	MinSize = 1 << 10
	MaxSize = 50 << 20

	// DefaultFetchTimeout bounds one download attempt
	DefaultFetchTimeout = 30 * time.Second

	// DefaultKey is the cache key of the contract module
	DefaultKey = "wasm/icrc1_ledger.wasm"

	contentType = "application/wasm"
)

var (
	wasmMagic = []byte("\x00asm")
	gzipMagic = []byte{0x1f, 0x8b}

	// ErrVerification marks size, format and checksum failures. They are
	// never retried against the same URL.
	ErrVerification = errors.New("module verification failed")
)

// Config tells the acquirer where the module lives and what it must hash to
type Config struct {
	URL          string
	SHA256       string // hex, verification is skipped when empty
	Key          string
	FetchTimeout time.Duration
	Retry        retry.Config
	Client       *http.Client
}

// Acquirer returns verified module bytes, downloading them at most once per
// process and sharing them through Cache across processes
type Acquirer struct {
	cfg      Config
	expected []byte
	cache    Cache
	client   *http.Client
	group    singleflight.Group

	mu     sync.RWMutex
	memory []byte
}

// NewAcquirer validates cfg. cache may be nil.
func NewAcquirer(cfg Config, cache Cache) (*Acquirer, error) {
	if cfg.URL == "" {
		return nil, errors.New("module URL is required")
	}
	var expected []byte
	if cfg.SHA256 != "" {
		sum, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(cfg.SHA256), "0x"))
		if err != nil || len(sum) != sha256.Size {
			return nil, fmt.Errorf("module checksum %q is not a hex sha256", cfg.SHA256)
		}
		expected = sum
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultConfig()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Acquirer{cfg: cfg, expected: expected, cache: cache, client: client}, nil
}

// Digest renders the sha256 of data in hex
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Acquire returns a private copy of the module. Concurrent callers share one
// download, and a caller that gives up does not cancel it for the others.
func (a *Acquirer) Acquire(ctx context.Context) ([]byte, error) {
	a.mu.RLock()
	cached := a.memory
	a.mu.RUnlock()
	if cached != nil {
		return bytes.Clone(cached), nil
	}

	ch := a.group.DoChan(a.cfg.Key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.sharedTimeout())
		defer cancel()
		return a.acquire(shared)
	})
	select {
	case <-ctx.Done():
		return nil, apperror.ExternalService("module", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// sharedTimeout bounds a detached acquisition: every attempt may time out
// and wait the longest backoff
func (a *Acquirer) sharedTimeout() time.Duration {
	return retry.DefaultAttempts * (a.cfg.FetchTimeout + a.cfg.Retry.MaxDelay)
}

func (a *Acquirer) acquire(ctx context.Context) ([]byte, error) {
	if data := a.fromCache(ctx); data != nil {
		a.remember(data)
		return data, nil
	}

	start := time.Now()
	data, err := a.download(ctx)
	metrics.ModuleFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperror.ExternalService("module", err)
	}

	a.store(ctx, data)
	a.remember(data)
	slog.Info("Module downloaded and verified", "url", a.cfg.URL, "size", len(data), "sha256", Digest(data))
	return data, nil
}

func (a *Acquirer) remember(data []byte) {
	a.mu.Lock()
	a.memory = data
	a.mu.Unlock()
	metrics.ModuleSizeBytes.Set(float64(len(data)))
}

// fromCache returns a verified cached copy or nil. Cache errors and invalid
// copies fall through to a download.
func (a *Acquirer) fromCache(ctx context.Context) []byte {
	if a.cache == nil {
		return nil
	}
	ok, err := a.cache.Exists(ctx, a.cfg.Key)
	if err != nil {
		slog.Warn("Module cache unavailable", "key", a.cfg.Key, "error", err)
		return nil
	}
	if !ok {
		metrics.ModuleCacheTotal.WithLabelValues("miss").Inc()
		return nil
	}
	data, err := a.cache.Get(ctx, a.cfg.Key)
	if err != nil {
		slog.Warn("Failed to read cached module", "key", a.cfg.Key, "error", err)
		metrics.ModuleCacheTotal.WithLabelValues("miss").Inc()
		return nil
	}
	if err := a.verify(data); err != nil {
		slog.Warn("Cached module is stale, refetching", "key", a.cfg.Key, "error", err)
		metrics.ModuleCacheTotal.WithLabelValues("stale").Inc()
		return nil
	}
	metrics.ModuleCacheTotal.WithLabelValues("hit").Inc()
	return data
}

// store writes data back to the cache. A conflict means another writer got
// there first and is not an error.
func (a *Acquirer) store(ctx context.Context, data []byte) {
	if a.cache == nil {
		return
	}
	err := a.cache.PutIfAbsent(ctx, a.cfg.Key, data, contentType)
	switch {
	case err == nil:
		slog.Debug("Module cached", "key", a.cfg.Key)
	case errors.Is(err, ErrConflict):
		slog.Debug("Module already cached by another writer", "key", a.cfg.Key)
	default:
		slog.Warn("Failed to cache module", "key", a.cfg.Key, "error", err)
	}
}

func (a *Acquirer) download(ctx context.Context) ([]byte, error) {
	strategy := retry.NewStrategy(a.cfg.Retry.WithAttempts(retry.DefaultAttempts), func(err error) bool {
		return !errors.Is(err, ErrVerification)
	})

	return retry.Do(ctx, strategy, "download module", func(ctx context.Context, attempt int) ([]byte, error) {
		data, err := a.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.verify(data); err != nil {
			return nil, err
		}
		return data, nil
	})
}

func (a *Acquirer) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build module request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download module: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("module download returned %s", resp.Status)
	}
	if resp.ContentLength > MaxSize {
		return nil, fmt.Errorf("%w: advertised size %d exceeds %d bytes", ErrVerification, resp.ContentLength, MaxSize)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read module body: %w", err)
	}
	return data, nil
}

// verify checks size bounds, format and, when configured, the checksum
func (a *Acquirer) verify(data []byte) error {
	if len(data) < MinSize || len(data) > MaxSize {
		return fmt.Errorf("%w: size %d outside [%d, %d]", ErrVerification, len(data), MinSize, MaxSize)
	}
	if err := checkFormat(data); err != nil {
		return err
	}
	if a.expected != nil {
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], a.expected) {
			return fmt.Errorf("%w: sha256 %x does not match expected %x", ErrVerification, sum, a.expected)
		}
	}
	return nil
}

// checkFormat accepts raw WASM or gzip that inflates to WASM
func checkFormat(data []byte) error {
	if bytes.HasPrefix(data, wasmMagic) {
		return nil
	}
	if !bytes.HasPrefix(data, gzipMagic) {
		return fmt.Errorf("%w: not a wasm or gzip module", ErrVerification)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: bad gzip header: %v", ErrVerification, err)
	}
	defer zr.Close()
	head := make([]byte, len(wasmMagic))
	if _, err := io.ReadFull(zr, head); err != nil || !bytes.Equal(head, wasmMagic) {
		return fmt.Errorf("%w: gzip payload is not wasm", ErrVerification)
	}
	return nil
}
