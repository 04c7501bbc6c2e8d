package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, p string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[p] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	return w.Put(ctx, p, data, "")
}

type tradeList []domain.Trade

func (l tradeList) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range l {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type noOpps struct{}

func (noOpps) ListBefore(context.Context, time.Time) ([]domain.OpportunityRecord, error) {
	return nil, nil
}

type noActs struct{}

func (noActs) ListBefore(context.Context, time.Time) ([]domain.Activity, error) { return nil, nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func lines(t *testing.T, b []byte) []domain.Trade {
	t.Helper()
	var out []domain.Trade
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		out = append(out, tr)
	}
	return out
}

func TestArchiveTradesIsIncremental(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := tradeList{
		{ID: "t1", ExecutedAt: base.Add(-72 * time.Hour)},
		{ID: "t2", ExecutedAt: base.Add(-36 * time.Hour)},
		{ID: "t3", ExecutedAt: base.Add(-time.Hour)},
	}
	w := &memWriter{}
	a := NewArchiver(w, trades, noOpps{}, noActs{}, discard())
	ctx := context.Background()

	first := base.Add(-48 * time.Hour)
	n, err := a.ArchiveTrades(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.ArchiveTrades(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	second := w.objects[archivePath("trades", base)]
	got := lines(t, second)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID)
	assert.Equal(t, "t3", got[1].ID)
}

func TestArchiveEmptyUploadsNothing(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, tradeList{}, noOpps{}, noActs{}, discard())

	ctx, now := context.Background(), time.Now()
	for _, run := range []func(context.Context, time.Time) (int64, error){
		a.ArchiveTrades, a.ArchiveOpportunities, a.ArchiveActivity,
	} {
		n, err := run(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Empty(t, w.objects)
}

func TestArchiveUploadFailureKeepsCutoff(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := &memWriter{err: errors.New("denied")}
	a := NewArchiver(w, tradeList{{ID: "t1", ExecutedAt: base.Add(-time.Hour)}}, noOpps{}, noActs{}, discard())

	_, err := a.ArchiveTrades(context.Background(), base)
	require.Error(t, err)

	w.err = nil
	n, err := a.ArchiveTrades(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchivePath(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/trades/2026/03/1772366400.jsonl", archivePath("trades", ts))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example", normaliseEndpoint("https://s3.example", false))
}
