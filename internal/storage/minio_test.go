package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 只支持单个对象的 PUT / GET / DELETE
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.meta[r.URL.Path] = r.Header.Get("X-Amz-Meta-Filename")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestMinIOArchive_RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, meta: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client, err := minio.New(strings.TrimPrefix(server.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("", "", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)
	archive := NewMinIOArchiveWithClient(client, "rag-documents", nil)
	ctx := context.Background()

	require.NoError(t, archive.Put(ctx, "doc-1", "my notes.txt", "The sky is blue. Grass is green."))
	assert.Contains(t, fake.objects, "/rag-documents/raw/doc-1.txt")
	assert.Equal(t, "my+notes.txt", fake.meta["/rag-documents/raw/doc-1.txt"])

	text, err := archive.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue. Grass is green.", text)

	require.NoError(t, archive.Delete(ctx, "doc-1"))
	assert.NotContains(t, fake.objects, "/rag-documents/raw/doc-1.txt")

	_, err = archive.Get(ctx, "doc-1")
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "raw/abc.txt", objectKey("abc"))
}
