package marketdata

import (
	"context"
	"encoding/json"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/websocket"
	"time"

	"github.com/shopspring/decimal"
)

// Feed subscribes to the market data gateway's websocket stream and
// writes every quote, depth and lot frame into the book. The underlying
// client reconnects on its own; the subscription is replayed on every
// connect.
type Feed struct {
	book        *Book
	instruments []core.Instrument
	client      *websocket.Client
	logger      core.ILogger
}

// NewFeed builds a feed for the given instruments. The websocket is not
// opened until Run is called.
func NewFeed(cfg config.MarketDataConfig, book *Book, instruments []core.Instrument, logger core.ILogger) *Feed {
	f := &Feed{
		book:        book,
		instruments: instruments,
		logger:      logger.WithField("component", "marketdata_feed"),
	}

	client := websocket.NewClient(cfg.WSURL, f.handleMessage, f.logger)
	if cfg.PingIntervalSeconds > 0 {
		interval := time.Duration(cfg.PingIntervalSeconds) * time.Second
		client.SetPingConfig(interval, 10*time.Second, 2*interval)
	}
	if cfg.ReconnectDelaySeconds > 0 {
		client.SetReconnectWait(time.Duration(cfg.ReconnectDelaySeconds) * time.Second)
	}
	if key := cfg.APIKey.Reveal(); key != "" {
		client.SetHeader("X-API-KEY", key)
	}
	client.SetOnConnected(f.subscribe)
	f.client = client
	return f
}

// Run opens the stream and blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.client.Start()
	<-ctx.Done()
	f.client.Stop()
	return ctx.Err()
}

func (f *Feed) subscribe() {
	keys := make([]string, len(f.instruments))
	for i, inst := range f.instruments {
		keys[i] = inst.Key()
	}
	sub := map[string]interface{}{
		"op":          "subscribe",
		"channels":    []string{"quote", "depth"},
		"instruments": keys,
	}
	if err := f.client.Send(sub); err != nil {
		f.logger.Error("failed to send subscription", "error", err.Error())
		return
	}
	f.logger.Info("subscribed to market data stream", "instruments", len(keys))
}

func (f *Feed) handleMessage(message []byte) {
	var frame struct {
		Type    string      `json:"type"`
		Venue   string      `json:"venue"`
		Symbol  string      `json:"symbol"`
		Bid     string      `json:"bid"`
		Ask     string      `json:"ask"`
		Bids    [][2]string `json:"bids"`
		Asks    [][2]string `json:"asks"`
		LotSize string      `json:"lot_size"`
		TS      int64       `json:"ts"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		f.logger.Warn("unparseable stream frame", "error", err.Error())
		return
	}

	inst := core.Instrument{Venue: frame.Venue, Symbol: frame.Symbol}
	ts := time.Now()
	if frame.TS > 0 {
		ts = time.UnixMilli(frame.TS)
	}

	switch frame.Type {
	case "quote":
		bid, errBid := decimal.NewFromString(frame.Bid)
		ask, errAsk := decimal.NewFromString(frame.Ask)
		if errBid != nil || errAsk != nil {
			f.logger.Warn("invalid quote frame",
				"instrument", inst.Key(), "bid", frame.Bid, "ask", frame.Ask)
			return
		}
		f.book.ApplyQuote(inst, bid, ask, ts)
	case "depth":
		f.book.ApplyDepth(inst, parseLevels(frame.Bids), parseLevels(frame.Asks), ts)
	case "lot":
		lot, err := decimal.NewFromString(frame.LotSize)
		if err != nil || !lot.IsPositive() {
			f.logger.Warn("invalid lot frame", "instrument", inst.Key(), "lot_size", frame.LotSize)
			return
		}
		f.book.SetLotSize(inst, lot)
	default:
		// Subscription acks and heartbeats.
	}
}

// parseLevels converts [price, size] string pairs, dropping any level
// that does not parse to positive numbers.
func parseLevels(raw [][2]string) []core.PriceLevel {
	levels := make([]core.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, errPrice := decimal.NewFromString(pair[0])
		size, errSize := decimal.NewFromString(pair[1])
		if errPrice != nil || errSize != nil || !price.IsPositive() || !size.IsPositive() {
			continue
		}
		levels = append(levels, core.PriceLevel{Price: price, Size: size})
	}
	return levels
}
