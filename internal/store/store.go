package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/jiangjiechen/auction-arena/internal/auction"
)

// SessionRecord is one archived auction session.
type SessionRecord struct {
	AuctionHash string
	RepeatNum   int
	AuctionLog  string
	TotalCost   float64
	Memo        json.RawMessage
	CreatedAt   time.Time
}

// BidderRecord is one bidder's final monitor dump for a session.
type BidderRecord struct {
	AuctionHash string
	RepeatNum   int
	BidderName  string
	ModelName   string
	Monitor     json.RawMessage
	CreatedAt   time.Time
}

// Archive persists finished sessions and serves back past memos for the
// learning round of repeated runs.
type Archive interface {
	SaveSession(ctx context.Context, repeatNum int, result *auction.SessionResult) error
	LoadMemo(ctx context.Context, auctionHash string, repeatNum int) (*auction.Memo, bool, error)
	Close() error
}

// Store archives sessions in Postgres.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveSession upserts the session row and every bidder's monitor dump.
func (s *Store) SaveSession(ctx context.Context, repeatNum int, result *auction.SessionResult) error {
	memo, err := json.Marshal(result.Memo)
	if err != nil {
		return fmt.Errorf("marshal memo: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO auction_sessions (auction_hash, repeat_num, auction_log, total_cost, memo, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (auction_hash, repeat_num) DO UPDATE SET
  auction_log = EXCLUDED.auction_log,
  total_cost = EXCLUDED.total_cost,
  memo = EXCLUDED.memo;
`, result.AuctionHash, repeatNum, result.Log, result.TotalCost, memo)
	if err != nil {
		return fmt.Errorf("save session %s: %w", result.AuctionHash, err)
	}

	for _, monitor := range result.Monitors {
		raw, err := json.Marshal(monitor)
		if err != nil {
			return fmt.Errorf("marshal monitor for %s: %w", monitor.BidderName, err)
		}
		_, err = s.DB.ExecContext(ctx, `
INSERT INTO auction_bidders (auction_hash, repeat_num, bidder_name, model_name, monitor, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (auction_hash, repeat_num, bidder_name) DO UPDATE SET
  model_name = EXCLUDED.model_name,
  monitor = EXCLUDED.monitor;
`, result.AuctionHash, repeatNum, monitor.BidderName, monitor.ModelName, raw)
		if err != nil {
			return fmt.Errorf("save bidder %s: %w", monitor.BidderName, err)
		}
	}
	return nil
}

// LoadMemo fetches the memo of a past session, reporting false when the
// session was never archived.
func (s *Store) LoadMemo(ctx context.Context, auctionHash string, repeatNum int) (*auction.Memo, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT memo FROM auction_sessions
WHERE auction_hash=$1 AND repeat_num=$2
`, auctionHash, repeatNum)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load memo %s/%d: %w", auctionHash, repeatNum, err)
	}
	var memo auction.Memo
	if err := json.Unmarshal(raw, &memo); err != nil {
		return nil, false, fmt.Errorf("decode memo %s/%d: %w", auctionHash, repeatNum, err)
	}
	return &memo, true, nil
}

// ListSessions returns archived sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT auction_hash, repeat_num, auction_log, total_cost, memo, created_at
FROM auction_sessions
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.AuctionHash, &rec.RepeatNum, &rec.AuctionLog, &rec.TotalCost, &rec.Memo, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListBidders returns the archived monitor dumps of one session.
func (s *Store) ListBidders(ctx context.Context, auctionHash string, repeatNum int) ([]BidderRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT auction_hash, repeat_num, bidder_name, model_name, monitor, created_at
FROM auction_bidders
WHERE auction_hash=$1 AND repeat_num=$2
ORDER BY bidder_name
`, auctionHash, repeatNum)
	if err != nil {
		return nil, fmt.Errorf("list bidders %s/%d: %w", auctionHash, repeatNum, err)
	}
	defer rows.Close()

	var records []BidderRecord
	for rows.Next() {
		var rec BidderRecord
		if err := rows.Scan(&rec.AuctionHash, &rec.RepeatNum, &rec.BidderName, &rec.ModelName, &rec.Monitor, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
