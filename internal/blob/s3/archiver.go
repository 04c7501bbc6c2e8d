package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// multipartThreshold switches archives above this size to multipart upload.
const multipartThreshold = 16 * 1024 * 1024

// TradeSource, OpportunitySource and ActivitySource are the query methods
// the archiver needs from the Postgres stores.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

type OpportunitySource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error)
}

type ActivitySource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Activity, error)
}

// Archiver implements domain.Archiver. Each run uploads the records
// between the previous cutoff of this process and the new one as a JSONL
// object. Rows are not deleted from Postgres.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeSource
	opps   OpportunitySource
	acts   ActivitySource
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, trades TradeSource, opps OpportunitySource, acts ActivitySource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		opps:   opps,
		acts:   acts,
		logger: logger.With(slog.String("component", "archiver")),
		last:   make(map[string]time.Time),
	}
}

func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "trades", before, a.trades.ListBefore,
		func(t domain.Trade) time.Time { return t.ExecutedAt })
}

func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "opportunities", before, a.opps.ListBefore,
		func(o domain.OpportunityRecord) time.Time { return o.DetectedAt })
}

func (a *Archiver) ArchiveActivity(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "activity", before, a.acts.ListBefore,
		func(act domain.Activity) time.Time { return act.CreatedAt })
}

func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(context.Context, time.Time) ([]T, error),
	stamp func(T) time.Time,
) (int64, error) {
	a.mu.Lock()
	since := a.last[kind]
	a.mu.Unlock()

	all, err := list(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	records := all[:0:0]
	for _, r := range all {
		if !stamp(r).Before(since) {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		a.advance(kind, before)
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	p := archivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	a.advance(kind, before)

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archive uploaded",
		slog.String("kind", kind),
		slog.String("path", p),
		slog.Int64("count", count),
	)
	return count, nil
}

func (a *Archiver) advance(kind string, to time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last[kind] = to
}

// archivePath partitions archives by the cutoff's year and month:
//
//	archive/trades/2026/03/1772366400.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, before.Format("2006/01"), before.Unix())
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
