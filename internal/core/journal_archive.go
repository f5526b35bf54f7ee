package core

import (
	"bayplanner/internal/blob"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// JournalRecord is the archived form of one committed sandbox journal.
type JournalRecord struct {
	SessionID   string         `json:"session_id"`
	User        string         `json:"user"`
	CommittedAt time.Time      `json:"committed_at"`
	Entries     []JournalEntry `json:"entries"`
}

// JournalArchive stores committed journals for later inspection.
type JournalArchive interface {
	Archive(ctx context.Context, record JournalRecord) error
}

// DefaultJournalPrefix is the key prefix used when none is configured.
const DefaultJournalPrefix = "journals/"

const journalKeyLayout = "20060102T150405.000000000Z"

// listConcurrency bounds parallel fetches in List.
const listConcurrency = 8

// BlobJournalArchive writes one JSON object per committed journal into a blob
// store. Keys sort in commit order.
type BlobJournalArchive struct {
	store  blob.Store
	prefix string
}

// NewBlobJournalArchive builds an archive over store. An empty prefix selects
// DefaultJournalPrefix.
func NewBlobJournalArchive(store blob.Store, prefix string) *BlobJournalArchive {
	if prefix == "" {
		prefix = DefaultJournalPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobJournalArchive{store: store, prefix: prefix}
}

// Key returns the blob key a record is stored under.
func (a *BlobJournalArchive) Key(record JournalRecord) string {
	return a.prefix + record.CommittedAt.UTC().Format(journalKeyLayout) + "-" + record.SessionID + ".json"
}

// Archive implements JournalArchive.
func (a *BlobJournalArchive) Archive(ctx context.Context, record JournalRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode journal %s: %w", record.SessionID, err)
	}
	_, err = a.store.Put(ctx, a.Key(record), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"user": record.User, "session": record.SessionID},
	})
	if err != nil {
		return fmt.Errorf("archive journal %s: %w", record.SessionID, err)
	}
	return nil
}

// List returns every archived journal in commit order.
func (a *BlobJournalArchive) List(ctx context.Context) ([]JournalRecord, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	records := make([]JournalRecord, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, info := range infos {
		g.Go(func() error {
			_, rc, err := a.store.Get(gctx, info.Key)
			if err != nil {
				return fmt.Errorf("read journal %s: %w", info.Key, err)
			}
			defer func() { _ = rc.Close() }()
			if err := json.NewDecoder(rc).Decode(&records[i]); err != nil {
				return fmt.Errorf("decode journal %s: %w", info.Key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
