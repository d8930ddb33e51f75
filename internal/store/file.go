package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jiangjiechen/auction-arena/internal/auction"
)

// FileArchive writes session artifacts under {dir}/{auction_hash}/:
// one JSONL monitor file per bidder, the markdown auction log, and the
// memo for the next repeat to pick up. It is the fallback archive when
// neither Postgres nor Redis is configured.
type FileArchive struct {
	dir string
}

func NewFileArchive(dir string) (*FileArchive, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

func (f *FileArchive) Close() error { return nil }

func (f *FileArchive) sessionDir(hash string) string {
	return filepath.Join(f.dir, hash)
}

func (f *FileArchive) SaveSession(ctx context.Context, repeatNum int, result *auction.SessionResult) error {
	dir := f.sessionDir(result.AuctionHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	for _, monitor := range result.Monitors {
		name := strings.ReplaceAll(monitor.BidderName, " ", "")
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.jsonl", name, repeatNum))
		line, err := json.Marshal(monitor)
		if err != nil {
			return fmt.Errorf("marshal monitor for %s: %w", monitor.BidderName, err)
		}
		fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		if _, err := fh.Write(append(line, '\n')); err != nil {
			fh.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := fh.Close(); err != nil {
			return err
		}
	}

	logPath := filepath.Join(dir, fmt.Sprintf("auction-%d.md", repeatNum))
	if err := os.WriteFile(logPath, []byte(result.Log), 0o644); err != nil {
		return fmt.Errorf("write auction log: %w", err)
	}

	memo, err := json.MarshalIndent(result.Memo, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memo: %w", err)
	}
	memoPath := filepath.Join(dir, fmt.Sprintf("memo-%d.json", repeatNum))
	if err := os.WriteFile(memoPath, memo, 0o644); err != nil {
		return fmt.Errorf("write memo: %w", err)
	}
	return nil
}

func (f *FileArchive) LoadMemo(ctx context.Context, auctionHash string, repeatNum int) (*auction.Memo, bool, error) {
	path := filepath.Join(f.sessionDir(auctionHash), fmt.Sprintf("memo-%d.json", repeatNum))
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read memo %s: %w", path, err)
	}
	var memo auction.Memo
	if err := json.Unmarshal(raw, &memo); err != nil {
		return nil, false, fmt.Errorf("decode memo %s: %w", path, err)
	}
	return &memo, true, nil
}
