package service

// In-memory store and adapter fakes backing the service tests. Decimal
// values are cloned at the boundary so a fake never aliases pool or balance
// state into caller-held values.

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/outcomelab/predmarket/internal/domain"
)

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memMarkets struct {
	mu   sync.Mutex
	byID map[string]domain.Market
}

func newMemMarkets() *memMarkets {
	return &memMarkets{byID: map[string]domain.Market{}}
}

func cloneMarket(m domain.Market) domain.Market {
	m.VolumeYes = domain.CloneDec(m.VolumeYes)
	m.VolumeNo = domain.CloneDec(m.VolumeNo)
	if m.WinningOutcome != nil {
		o := *m.WinningOutcome
		m.WinningOutcome = &o
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		m.ResolvedAt = &t
	}
	return m
}

func (s *memMarkets) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.ID] = cloneMarket(m)
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *memMarkets) GetByIDForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return s.GetByID(ctx, id)
}

func (s *memMarkets) Update(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[m.ID] = cloneMarket(m)
	return nil
}

func (s *memMarkets) ListByStatus(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.byID {
		if m.Status == status {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memMarkets) AddVolume(_ context.Context, marketID string, outcome domain.Outcome, amount *apd.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	var err error
	if outcome == domain.OutcomeYes {
		m.VolumeYes, err = domain.DecAdd(m.VolumeYes, amount)
	} else {
		m.VolumeNo, err = domain.DecAdd(m.VolumeNo, amount)
	}
	if err != nil {
		return err
	}
	s.byID[marketID] = m
	return nil
}

type memPredictions struct {
	mu   sync.Mutex
	byID map[string]domain.Prediction
}

func newMemPredictions() *memPredictions {
	return &memPredictions{byID: map[string]domain.Prediction{}}
}

func clonePrediction(p domain.Prediction) domain.Prediction {
	p.AmountStaked = domain.CloneDec(p.AmountStaked)
	p.PnlUsd = domain.CloneDec(p.PnlUsd)
	if p.PredictedOutcome != nil {
		o := *p.PredictedOutcome
		p.PredictedOutcome = &o
	}
	if p.RevealedAt != nil {
		t := *p.RevealedAt
		p.RevealedAt = &t
	}
	if p.SettledAt != nil {
		t := *p.SettledAt
		p.SettledAt = &t
	}
	return p
}

func (s *memPredictions) Create(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byID {
		if e.UserID == p.UserID && e.MarketID == p.MarketID {
			return domain.ErrAlreadyCommitted
		}
	}
	s.byID[p.ID] = clonePrediction(p)
	return nil
}

func (s *memPredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return clonePrediction(p), nil
}

func (s *memPredictions) GetByIDForUpdate(ctx context.Context, id string) (domain.Prediction, error) {
	return s.GetByID(ctx, id)
}

func (s *memPredictions) GetByUserAndMarket(_ context.Context, userID, marketID string) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.UserID == userID && p.MarketID == marketID {
			return clonePrediction(p), nil
		}
	}
	return domain.Prediction{}, domain.ErrNotFound
}

func (s *memPredictions) Update(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[p.ID] = clonePrediction(p)
	return nil
}

func (s *memPredictions) ListByMarket(_ context.Context, marketID string) ([]domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range s.byID {
		if p.MarketID == marketID {
			out = append(out, clonePrediction(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPredictions) UserStats(_ context.Context, userID string) (domain.PredictionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.PredictionStats{
		TotalStaked:  domain.DecZero(),
		TotalClaimed: domain.DecZero(),
	}
	for _, p := range s.byID {
		if p.UserID != userID {
			continue
		}
		stats.TotalPredictions++
		var err error
		if stats.TotalStaked, err = domain.DecAdd(stats.TotalStaked, p.AmountStaked); err != nil {
			return domain.PredictionStats{}, err
		}
		if p.Status != domain.PredictionStatusSettled {
			continue
		}
		if p.IsWinner {
			stats.Wins++
			if p.WinningsClaimed {
				if stats.TotalClaimed, err = domain.DecAdd(stats.TotalClaimed, p.PnlUsd); err != nil {
					return domain.PredictionStats{}, err
				}
			}
		} else {
			stats.Losses++
		}
	}
	return stats, nil
}

type memPools struct {
	mu       sync.Mutex
	byMarket map[string]domain.LiquidityPool
}

func newMemPools() *memPools {
	return &memPools{byMarket: map[string]domain.LiquidityPool{}}
}

func clonePool(p domain.LiquidityPool) domain.LiquidityPool {
	p.ReserveYes = domain.CloneDec(p.ReserveYes)
	p.ReserveNo = domain.CloneDec(p.ReserveNo)
	p.FeeRate = domain.CloneDec(p.FeeRate)
	p.TradeVolumeYes = domain.CloneDec(p.TradeVolumeYes)
	p.TradeVolumeNo = domain.CloneDec(p.TradeVolumeNo)
	return p
}

func (s *memPools) Create(_ context.Context, pool domain.LiquidityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMarket[pool.MarketID] = clonePool(pool)
	return nil
}

func (s *memPools) GetByMarket(_ context.Context, marketID string) (domain.LiquidityPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byMarket[marketID]
	if !ok {
		return domain.LiquidityPool{}, domain.ErrNotFound
	}
	return clonePool(p), nil
}

func (s *memPools) GetByMarketForUpdate(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	return s.GetByMarket(ctx, marketID)
}

func (s *memPools) Update(_ context.Context, pool domain.LiquidityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byMarket[pool.MarketID]; !ok {
		return domain.ErrNotFound
	}
	s.byMarket[pool.MarketID] = clonePool(pool)
	return nil
}

type memPositions struct {
	mu   sync.Mutex
	byID map[string]domain.SharePosition
}

func newMemPositions() *memPositions {
	return &memPositions{byID: map[string]domain.SharePosition{}}
}

func clonePosition(p domain.SharePosition) domain.SharePosition {
	p.Quantity = domain.CloneDec(p.Quantity)
	p.CostBasis = domain.CloneDec(p.CostBasis)
	p.SoldQuantity = domain.CloneDec(p.SoldQuantity)
	p.RealizedPnl = domain.CloneDec(p.RealizedPnl)
	return p
}

func (s *memPositions) Get(_ context.Context, userID, marketID string, outcome domain.Outcome) (domain.SharePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.UserID == userID && p.MarketID == marketID && p.Outcome == outcome {
			return clonePosition(p), nil
		}
	}
	return domain.SharePosition{}, domain.ErrNotFound
}

func (s *memPositions) GetForUpdate(ctx context.Context, userID, marketID string, outcome domain.Outcome) (domain.SharePosition, error) {
	return s.Get(ctx, userID, marketID, outcome)
}

func (s *memPositions) Upsert(_ context.Context, pos domain.SharePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.ID] = clonePosition(pos)
	return nil
}

func (s *memPositions) ListByUser(_ context.Context, userID string) ([]domain.SharePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SharePosition
	for _, p := range s.byID {
		if p.UserID == userID {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTrades struct {
	mu  sync.Mutex
	all []domain.Trade
}

func newMemTrades() *memTrades { return &memTrades{} }

func (s *memTrades) Create(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, t)
	return nil
}

func (s *memTrades) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.all {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTrades) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.all {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memAttestations struct {
	mu  sync.Mutex
	all []domain.Attestation
}

func newMemAttestations() *memAttestations { return &memAttestations{} }

func (s *memAttestations) Create(_ context.Context, a domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.all {
		if e.MarketID == a.MarketID && e.OracleID == a.OracleID {
			return domain.ErrDuplicateAttestation
		}
	}
	s.all = append(s.all, a)
	return nil
}

func (s *memAttestations) ListByMarket(_ context.Context, marketID string) ([]domain.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attestation
	for _, a := range s.all {
		if a.MarketID == marketID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memOracles struct {
	mu   sync.Mutex
	byID map[string]domain.Oracle
}

func newMemOracles() *memOracles {
	return &memOracles{byID: map[string]domain.Oracle{}}
}

func (s *memOracles) Create(_ context.Context, o domain.Oracle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	return nil
}

func (s *memOracles) GetByID(_ context.Context, id string) (domain.Oracle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Oracle{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOracles) CountActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.byID {
		if o.Active {
			n++
		}
	}
	return n, nil
}

func (s *memOracles) ListActive(_ context.Context) ([]domain.Oracle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Oracle
	for _, o := range s.byID {
		if o.Active {
			out = append(out, o)
		}
	}
	return out, nil
}

type memDisputes struct {
	mu   sync.Mutex
	byID map[string]domain.Dispute
}

func newMemDisputes() *memDisputes {
	return &memDisputes{byID: map[string]domain.Dispute{}}
}

func (s *memDisputes) Create(_ context.Context, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[d.ID] = d
	return nil
}

func (s *memDisputes) GetByID(_ context.Context, id string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *memDisputes) GetByIDForUpdate(ctx context.Context, id string) (domain.Dispute, error) {
	return s.GetByID(ctx, id)
}

func (s *memDisputes) Update(_ context.Context, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[d.ID] = d
	return nil
}

func (s *memDisputes) ListByMarket(_ context.Context, marketID string) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispute
	for _, d := range s.byID {
		if d.MarketID == marketID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memAccounts struct {
	mu       sync.Mutex
	balances map[string]*apd.Decimal
}

func newMemAccounts() *memAccounts {
	return &memAccounts{balances: map[string]*apd.Decimal{}}
}

func (s *memAccounts) deposit(userID string, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = domain.MustDec(amount)
}

func (s *memAccounts) Get(_ context.Context, userID string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return domain.Account{UserID: userID, Balance: domain.CloneDec(b)}, nil
}

func (s *memAccounts) Credit(_ context.Context, userID string, amount *apd.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.balances[userID]
	if !ok {
		cur = domain.DecZero()
	}
	next, err := domain.DecAdd(cur, amount)
	if err != nil {
		return err
	}
	s.balances[userID] = next
	return nil
}

func (s *memAccounts) Debit(_ context.Context, userID string, amount *apd.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.balances[userID]
	if !ok || cur.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	next, err := domain.DecSub(cur, amount)
	if err != nil {
		return err
	}
	s.balances[userID] = next
	return nil
}

type fakeLedger struct {
	mu         sync.Mutex
	calls      int
	failNext   error
	lastParams domain.LedgerTradeParams
}

func (l *fakeLedger) receipt() (domain.LedgerReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return domain.LedgerReceipt{}, err
	}
	l.calls++
	return domain.LedgerReceipt{TxHash: "0xtx"}, nil
}

func (l *fakeLedger) CommitPrediction(context.Context, string, string, *apd.Decimal) (domain.LedgerReceipt, error) {
	return l.receipt()
}

func (l *fakeLedger) RevealPrediction(context.Context, string, domain.Outcome, string) (domain.LedgerReceipt, error) {
	return l.receipt()
}

func (l *fakeLedger) BuyShares(_ context.Context, params domain.LedgerTradeParams) (domain.LedgerReceipt, error) {
	r, err := l.receipt()
	if err == nil {
		l.mu.Lock()
		l.lastParams = params
		l.mu.Unlock()
	}
	return r, err
}

func (l *fakeLedger) SellShares(_ context.Context, params domain.LedgerTradeParams) (domain.LedgerReceipt, error) {
	r, err := l.receipt()
	if err == nil {
		l.mu.Lock()
		l.lastParams = params
		l.mu.Unlock()
	}
	return r, err
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: map[string]bool{}} }

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{published: map[string][][]byte{}} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type sentNote struct {
	UserID string
	Kind   string
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sentNote
}

func (s *fakeSink) Notify(_ context.Context, userID, kind string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNote{UserID: userID, Kind: kind})
	return nil
}

type fakeVault struct {
	mu   sync.Mutex
	docs map[string][]byte
	puts int
}

func newFakeVault() *fakeVault { return &fakeVault{docs: map[string][]byte{}} }

func (v *fakeVault) Put(_ context.Context, marketID, oracleID string, doc []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.puts++
	ref := "proofs/" + marketID + "/" + oracleID
	v.docs[ref] = doc
	return ref, nil
}

func (v *fakeVault) Get(_ context.Context, ref string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	doc, ok := v.docs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]string
}

func newFakePrices() *fakePrices { return &fakePrices{prices: map[string]string{}} }

func (p *fakePrices) SetYesPrice(_ context.Context, marketID string, price string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[marketID] = price
	return nil
}

func (p *fakePrices) GetYesPrice(_ context.Context, marketID string) (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[marketID]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}
	return price, time.Time{}, nil
}
