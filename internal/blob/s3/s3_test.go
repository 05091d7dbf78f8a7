package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

type putCall struct {
	path        string
	body        []byte
	contentType string
}

type memWriter struct {
	puts []putCall
	err  error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.puts = append(m.puts, putCall{path: path, body: b, contentType: contentType})
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestUploader(w *memWriter) *ImageUploader {
	u := NewImageUploader(w, func(key string) string { return "https://cdn.example.com/" + key })
	u.newID = func() string { return "fixed" }
	return u
}

func TestUploadImage(t *testing.T) {
	w := &memWriter{}
	u := newTestUploader(w)

	url, err := u.UploadImage(context.Background(), "cover.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/markets/fixed.png", url)
	require.Len(t, w.puts, 1)
	assert.Equal(t, "markets/fixed.png", w.puts[0].path)
	assert.Equal(t, "image/png", w.puts[0].contentType)
	assert.Equal(t, pngHeader, w.puts[0].body)
}

func TestUploadImageRejects(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"text", []byte("hello world, not an image")},
		{"too large", append(append([]byte{}, pngHeader...), make([]byte, MaxImageSize)...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := &memWriter{}
			_, err := newTestUploader(w).UploadImage(context.Background(), "x", bytes.NewReader(tc.body))
			assert.ErrorIs(t, err, domain.ErrInvalidImage)
			assert.Empty(t, w.puts)
		})
	}
}

func TestUploadImageWriterError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newTestUploader(&memWriter{err: boom}).UploadImage(context.Background(), "x", bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, boom)
}

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com",
		publicBase(ClientConfig{PublicBaseURL: "https://cdn.example.com/"}, ""))
	assert.Equal(t, "http://minio:9000/images",
		publicBase(ClientConfig{Bucket: "images"}, "http://minio:9000/"))
	assert.Equal(t, "https://images.s3.ap-southeast-1.amazonaws.com",
		publicBase(ClientConfig{Bucket: "images", Region: "ap-southeast-1"}, ""))

	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

type memTxStore struct {
	domain.TxStore
	recs []domain.TxRecord
}

func (m *memTxStore) ListByAccount(_ context.Context, account string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	var out []domain.TxRecord
	for _, r := range m.recs {
		if r.Account == account && (opts.Until == nil || !r.CreatedAt.After(*opts.Until)) {
			out = append(out, r)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memAudit struct {
	domain.AuditStore
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func TestArchiveAccount(t *testing.T) {
	cutoff := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	store := &memTxStore{}
	for i := 0; i < archivePageSize+2; i++ {
		store.recs = append(store.recs, domain.TxRecord{
			Hash:      "0x" + strings.Repeat("a", i%5+1),
			Kind:      domain.TxKindBet,
			Account:   "0xabc",
			Amount:    "0.1",
			Status:    domain.TxStatusConfirmed,
			CreatedAt: cutoff.Add(-time.Hour),
		})
	}
	store.recs = append(store.recs, domain.TxRecord{Hash: "0xlate", Account: "0xabc", CreatedAt: cutoff.Add(time.Hour)})

	w := &memWriter{}
	audit := &memAudit{}
	key, n, err := NewHistoryArchiver(w, store, audit).ArchiveAccount(context.Background(), "0xABC", cutoff)
	require.NoError(t, err)
	assert.Equal(t, "archive/tx/0xabc/2025-03.jsonl", key)
	assert.Equal(t, archivePageSize+2, n)
	assert.Equal(t, []string{"archive.tx"}, audit.events)

	require.Len(t, w.puts, 1)
	assert.Equal(t, "application/x-ndjson", w.puts[0].contentType)
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(w.puts[0].body))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		assert.NotEqual(t, "0xlate", row["hash"])
		lines++
	}
	assert.Equal(t, n, lines)
}

func TestArchiveAccountEmpty(t *testing.T) {
	w := &memWriter{}
	key, n, err := NewHistoryArchiver(w, &memTxStore{}, nil).ArchiveAccount(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)
}
