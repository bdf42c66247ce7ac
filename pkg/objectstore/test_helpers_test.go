package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// --- Mock GCS Client Components ---

// mockGCSWriter is a mock GCSWriter that writes to an in-memory buffer.
type mockGCSWriter struct {
	buf    bytes.Buffer
	closed bool
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

// mockGCSObjectHandle is a mock GCSObjectHandle.
type mockGCSObjectHandle struct {
	name   string
	writer *mockGCSWriter
}

func (m *mockGCSObjectHandle) NewWriter(ctx context.Context) GCSWriter {
	m.writer = &mockGCSWriter{}
	return m.writer
}

func (m *mockGCSObjectHandle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	if m.writer == nil || !m.writer.closed {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(m.writer.buf.Bytes())), nil
}

func (m *mockGCSObjectHandle) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	if m.writer == nil || !m.writer.closed {
		return nil, storage.ErrObjectNotExist
	}
	return &storage.ObjectAttrs{Name: m.name, Size: int64(m.writer.buf.Len())}, nil
}

// mockGCSBucketHandle is a mock GCSBucketHandle that stores created objects in a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects map[string]*mockGCSObjectHandle
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{name: name}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) Objects(ctx context.Context, q *storage.Query) GCSObjectIterator {
	m.Lock()
	defer m.Unlock()
	var attrs []*storage.ObjectAttrs
	for name, h := range m.objects {
		if h.writer == nil || !h.writer.closed || !strings.HasPrefix(name, q.Prefix) {
			continue
		}
		attrs = append(attrs, &storage.ObjectAttrs{Name: name, Size: int64(h.writer.buf.Len())})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return &mockObjectIterator{attrs: attrs}
}

type mockObjectIterator struct {
	attrs []*storage.ObjectAttrs
}

func (m *mockObjectIterator) Next() (*storage.ObjectAttrs, error) {
	if len(m.attrs) == 0 {
		return nil, iterator.Done
	}
	next := m.attrs[0]
	m.attrs = m.attrs[1:]
	return next, nil
}

// mockGCSClient is a mock GCSClient.
type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{
		bucket: &mockGCSBucketHandle{},
	}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	return m.bucket
}

func (m *mockGCSClient) Close() error { return nil }
