package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	apperrors "pairs_trader/pkg/errors"
	apphttp "pairs_trader/pkg/http"
	"pairs_trader/pkg/retry"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotClient primes the book over REST so the matcher has depth to
// work with before the stream delivers its first update.
type SnapshotClient struct {
	client *apphttp.Client
	depth  int
	logger core.ILogger
}

// NewSnapshotClient builds a client against the gateway's REST endpoint.
func NewSnapshotClient(cfg config.MarketDataConfig, logger core.ILogger) *SnapshotClient {
	depth := cfg.SnapshotDepth
	if depth <= 0 {
		depth = 20
	}
	client := apphttp.NewClient(cfg.RestURL, 10*time.Second, cfg.APIKey.Reveal())
	if secret := cfg.SecretKey.Reveal(); secret != "" {
		client.SetSigningKey(secret)
	}
	return &SnapshotClient{
		client: client,
		depth:  depth,
		logger: logger.WithField("component", "marketdata_snapshot"),
	}
}

// Prime fetches a depth snapshot and lot size for every instrument and
// applies them to the book. Throttling and transport blips are retried
// per instrument; the first instrument that still fails aborts the
// prime, and callers decide whether a cold book is acceptable.
func (s *SnapshotClient) Prime(ctx context.Context, book *Book, instruments []core.Instrument) error {
	for _, inst := range instruments {
		err := retry.Do(ctx, retry.DefaultPolicy, isTransientFetch, func() error {
			return s.primeInstrument(ctx, book, inst)
		})
		if err != nil {
			return fmt.Errorf("prime %s: %w", inst.Key(), err)
		}
	}
	return nil
}

func isTransientFetch(err error) bool {
	return errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrRateLimitExceeded)
}

func (s *SnapshotClient) primeInstrument(ctx context.Context, book *Book, inst core.Instrument) error {
	body, err := s.client.Get(ctx, "/depth", map[string]string{
		"venue":  inst.Venue,
		"symbol": inst.Symbol,
		"limit":  strconv.Itoa(s.depth),
	})
	if err != nil {
		return err
	}

	var snap struct {
		Bids    [][2]string `json:"bids"`
		Asks    [][2]string `json:"asks"`
		LotSize string      `json:"lot_size"`
		TS      int64       `json:"ts"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	ts := time.Now()
	if snap.TS > 0 {
		ts = time.UnixMilli(snap.TS)
	}
	bids := parseLevels(snap.Bids)
	asks := parseLevels(snap.Asks)
	book.ApplyDepth(inst, bids, asks, ts)

	if snap.LotSize != "" {
		lot, err := decimal.NewFromString(snap.LotSize)
		if err != nil {
			return fmt.Errorf("lot size %q: %w", snap.LotSize, err)
		}
		book.SetLotSize(inst, lot)
	}

	s.logger.Debug("book primed",
		"instrument", inst.Key(), "bids", len(bids), "asks", len(asks))
	return nil
}
