package wasm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers path style HEAD, GET and conditional PUT requests
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	data, ok := f.objects[key]

	switch r.Method {
	case http.MethodHead:
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case http.MethodPut:
		if ok && r.Header.Get("If-None-Match") == "*" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusPreconditionFailed)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>exists</Message></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Cache_PutIfAbsent(t *testing.T) {
	backend := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	ctx := context.Background()
	cache, err := NewS3Cache(ctx, S3Config{
		Bucket:    "modules",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	ok, err := cache.Exists(ctx, DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cache.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)

	module := testModule(2048)
	require.NoError(t, cache.PutIfAbsent(ctx, DefaultKey, module, contentType))
	assert.ErrorIs(t, cache.PutIfAbsent(ctx, DefaultKey, testModule(4096), contentType), ErrConflict)

	ok, err = cache.Exists(ctx, DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := cache.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, module, got)
}
