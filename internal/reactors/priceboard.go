package reactors

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"Meshflow/internal/mesh"
)

const (
	PriceBoardName    = "PriceBoard"
	PriceBoardUpdate  = "PriceBoard.update"
	PriceBoardRequest = "PriceBoard.request"
	PriceBoardBoard   = "PriceBoard.board"
)

// Quote is the latest price of one ticker.
type Quote struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

// PriceBoard keeps the latest quote per ticker. Every update broadcasts the
// board, a request is answered to the requesting node only, and a node that
// starts consuming the board receives the current board on connect.
type PriceBoard struct {
	logger   *zap.Logger
	updates  *mesh.Observable[Quote]
	requests *mesh.Observable[[]string]
	board    *mesh.Observer[[]Quote]

	mu     sync.RWMutex
	prices map[string]float64
}

func NewPriceBoard(logger *zap.Logger, opts ...mesh.ProxyOption) (*PriceBoard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]mesh.ProxyOption{mesh.WithLogger(logger)}, opts...)
	updates, err := mesh.NewObservable[Quote](PriceBoardUpdate, opts...)
	if err != nil {
		return nil, err
	}
	requests, err := mesh.NewObservable[[]string](PriceBoardRequest, opts...)
	if err != nil {
		return nil, err
	}
	board, err := mesh.NewObserver[[]Quote](PriceBoardBoard, opts...)
	if err != nil {
		return nil, err
	}
	pb := &PriceBoard{
		logger:   logger.With(zap.String("reactor", PriceBoardName)),
		updates:  updates,
		requests: requests,
		board:    board,
		prices:   make(map[string]float64),
	}
	updates.Subscribe(pb.update)
	requests.SubscribeEnvelope(pb.request)
	board.SetOnConnect(pb.catchUp)
	return pb, nil
}

func (pb *PriceBoard) Name() string { return PriceBoardName }

func (pb *PriceBoard) Routes() []mesh.RouteRegistrant {
	return []mesh.RouteRegistrant{pb.updates, pb.requests, pb.board}
}

func (pb *PriceBoard) update(q Quote) error {
	if q.Ticker == "" {
		return nil
	}
	pb.mu.Lock()
	pb.prices[q.Ticker] = q.Price
	pb.mu.Unlock()
	return pb.board.OnNext(pb.Quotes())
}

func (pb *PriceBoard) request(tickers []string, msg *mesh.Message) error {
	quotes := pb.Quotes(tickers...)
	pb.logger.Debug("board requested", zap.String("peer", msg.Service), zap.Int("quotes", len(quotes)))
	return pb.board.OnNextTo(quotes, msg.Service)
}

func (pb *PriceBoard) catchUp(peer string) {
	quotes := pb.Quotes()
	if len(quotes) == 0 {
		return
	}
	if err := pb.board.OnNextTo(quotes, peer); err != nil {
		pb.logger.Warn("catch-up failed", zap.String("peer", peer), zap.Error(err))
	}
}

// Quotes returns the board sorted by ticker, limited to tickers when given.
func (pb *PriceBoard) Quotes(tickers ...string) []Quote {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	out := make([]Quote, 0, len(pb.prices))
	if len(tickers) == 0 {
		for t, p := range pb.prices {
			out = append(out, Quote{Ticker: t, Price: p})
		}
	} else {
		for _, t := range tickers {
			if p, ok := pb.prices[t]; ok {
				out = append(out, Quote{Ticker: t, Price: p})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
