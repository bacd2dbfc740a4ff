package s3blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

type memBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
}

func newMemBucket() *memBucket { return &memBucket{objects: map[string][]byte{}} }

func (b *memBucket) Put(_ context.Context, p string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = raw
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	b.mu.Lock()
	b.multipart++
	b.mu.Unlock()
	return b.Put(ctx, p, data, "")
}

func (b *memBucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(raw))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func newTestArchiver(b *memBucket, at time.Time) *Archiver {
	a := NewArchiver(b, b, "")
	a.now = func() time.Time { return at }
	return a
}

func TestArchiveSnapshot_AndLatest(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	a := newTestArchiver(b, day)
	_, err := a.LatestSnapshot(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	first := domain.NewSessionState(0.35, day)
	first.TradesThisSession = 1
	p1, err := a.ArchiveSnapshot(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "sessions/2024-03-01/snapshot-090000.json", p1)

	a.now = func() time.Time { return day.Add(26 * time.Hour) }
	second := domain.NewSessionState(0.35, day)
	second.TradesThisSession = 7
	p2, err := a.ArchiveSnapshot(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "sessions/2024-03-02/snapshot-110000.json", p2)

	got, err := a.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, got.TradesThisSession)
}

func TestArchiveLog(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	a := newTestArchiver(b, time.Date(2024, 3, 1, 23, 59, 1, 0, time.UTC))

	local := filepath.Join(t.TempDir(), "trades.log")
	require.NoError(t, os.WriteFile(local, []byte("2024-03-01T09:00:00Z session_started\n"), 0o644))

	p, err := a.ArchiveLog(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, "sessions/2024-03-01/trades-235901.log", p)
	assert.Contains(t, string(b.objects[p]), "session_started")
	assert.Zero(t, b.multipart)

	// Log lines must not be mistaken for snapshots.
	_, err = a.LatestSnapshot(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveLog_MissingFile(t *testing.T) {
	a := newTestArchiver(newMemBucket(), time.Now())
	p, err := a.ArchiveLog(context.Background(), filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
