package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// DefaultPrefix is the key prefix for archived sessions.
const DefaultPrefix = "sessions/"

// multipartThreshold switches log uploads to the multipart manager.
const multipartThreshold = minPartSize

// Archiver implements domain.Archiver. Objects are laid out by UTC day:
//
//	sessions/2024-03-01/snapshot-090000.json
//	sessions/2024-03-01/trades-090000.log
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver. An empty prefix selects DefaultPrefix.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{writer: writer, reader: reader, prefix: prefix, now: time.Now}
}

func (a *Archiver) objectPath(kind, ext string) string {
	now := a.now().UTC()
	return fmt.Sprintf("%s%s/%s-%s.%s", a.prefix, now.Format("2006-01-02"), kind, now.Format("150405"), ext)
}

// ArchiveSnapshot uploads state as JSON and returns the object path.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, state domain.SessionState) (string, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}
	p := a.objectPath("snapshot", "json")
	if err := a.writer.Put(ctx, p, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return p, nil
}

// ArchiveLog uploads the file at localPath and returns the object path. A
// missing file is not an error and yields an empty path.
func (a *Archiver) ArchiveLog(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive log open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("s3blob: archive log stat: %w", err)
	}

	name := filepath.Base(localPath)
	p := a.objectPath(strings.TrimSuffix(name, filepath.Ext(name)), "log")
	if info.Size() >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, f, minPartSize)
	} else {
		err = a.writer.Put(ctx, p, f, "text/plain; charset=utf-8")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive log upload: %w", err)
	}
	return p, nil
}

// LatestSnapshot downloads the most recently archived snapshot or returns
// domain.ErrNotFound when none exists.
func (a *Archiver) LatestSnapshot(ctx context.Context) (domain.SessionState, error) {
	infos, err := a.reader.List(ctx, a.prefix)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("s3blob: list snapshots: %w", err)
	}

	var snaps []domain.BlobInfo
	for _, info := range infos {
		base := path.Base(info.Path)
		if strings.HasPrefix(base, "snapshot-") && strings.HasSuffix(base, ".json") {
			snaps = append(snaps, info)
		}
	}
	if len(snaps) == 0 {
		return domain.SessionState{}, domain.ErrNotFound
	}
	// Paths sort chronologically; LastModified breaks uploads within a second.
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Path != snaps[j].Path {
			return snaps[i].Path > snaps[j].Path
		}
		return snaps[i].LastModified.After(snaps[j].LastModified)
	})

	body, err := a.reader.Get(ctx, snaps[0].Path)
	if err != nil {
		return domain.SessionState{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("s3blob: read snapshot %s: %w", snaps[0].Path, err)
	}
	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("s3blob: decode snapshot %s: %w", snaps[0].Path, err)
	}
	return state, nil
}

var _ domain.Archiver = (*Archiver)(nil)
