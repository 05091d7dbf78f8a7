package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/executor"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/network"
	"github.com/alanyoungcy/bnbmarket/internal/notify"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/prefs"
	"github.com/alanyoungcy/bnbmarket/internal/session"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/alanyoungcy/bnbmarket/internal/wallet/wallettest"
)

const (
	bettor = "0xdef0000000000000000000000000000000000001"
	txHash = "0xaaa0000000000000000000000000000000000000000000000000000000000001"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type staticResolver struct{ p wallet.Provider }

func (r staticResolver) Resolve(domain.WalletType) (wallet.Provider, domain.WalletType) {
	if r.p == nil {
		return nil, ""
	}
	return r.p, domain.WalletMetaMask
}

// fakeBackend serves one market page and records posted activity.
type fakeBackend struct {
	mu        sync.Mutex
	posts     map[string][]map[string]any
	lists     int
	failPosts bool
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/market/get", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.lists++
		b.mu.Unlock()
		_, _ = io.WriteString(w, `{"data":[{"_id":"m1","onChainId":3,"question":"Will BNB close above 700?","marketField":1,"playerACount":1,"playerBCount":0}],"total":1}`)
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		b.mu.Lock()
		if b.posts == nil {
			b.posts = map[string][]map[string]any{}
		}
		b.posts[r.URL.Path] = append(b.posts[r.URL.Path], body)
		fail := b.failPosts
		b.mu.Unlock()
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"success":true}`)
	}
	mux.HandleFunc("POST /api/market/betting", record)
	mux.HandleFunc("POST /api/market/withdraw", record)
	mux.HandleFunc("POST /api/market/liquidity", record)
	return mux
}

func (b *fakeBackend) setFail(fail bool) {
	b.mu.Lock()
	b.failPosts = fail
	b.mu.Unlock()
}

func (b *fakeBackend) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists
}

func (b *fakeBackend) postsTo(path string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.posts[path]
}

type memTxs struct {
	mu   sync.Mutex
	recs []domain.TxRecord
}

func (m *memTxs) Create(_ context.Context, rec domain.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memTxs) MarkSynced(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].Hash == hash {
			m.recs[i].BackendSynced = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memTxs) GetByHash(context.Context, string) (domain.TxRecord, error) {
	return domain.TxRecord{}, domain.ErrNotFound
}

func (m *memTxs) ListByAccount(context.Context, string, domain.ListOpts) ([]domain.TxRecord, error) {
	return nil, nil
}

func (m *memTxs) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.TxRecord, error) {
	return nil, nil
}

func (m *memTxs) ListUnsynced(_ context.Context, limit int) ([]domain.TxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TxRecord
	for _, r := range m.recs {
		if !r.BackendSynced && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTxs) all() []domain.TxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TxRecord(nil), m.recs...)
}

type recordSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

type harness struct {
	provider *wallettest.Provider
	sessions *session.Manager
	backend  *fakeBackend
	txs      *memTxs
	sent     *recordSender
	svc      *BettingService
	markets  *MarketService
}

// newHarness wires the real session, guard, submitter and backend client
// around a fake wallet that starts on BSC mainnet.
func newHarness(t *testing.T) *harness {
	t.Helper()

	var chain atomic.Value
	chain.Store("0x38")
	p := wallettest.MetaMask().
		Return(wallet.MethodRequestAccounts, []string{bettor}).
		Return(wallet.MethodAccounts, []string{bettor}).
		Handle(wallet.MethodChainID, func(context.Context, json.RawMessage) (any, error) {
			return chain.Load().(string), nil
		}).
		Handle(wallet.MethodSwitchChain, func(_ context.Context, raw json.RawMessage) (any, error) {
			var params []wallet.SwitchChainParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, err
			}
			chain.Store(params[0].ChainID)
			return nil, nil
		}).
		Return(wallet.MethodSendTransaction, txHash).
		Return(wallet.MethodGetReceipt, map[string]any{
			"status":          "0x1",
			"blockNumber":     "0x10",
			"transactionHash": txHash,
			"logs":            []any{},
		}).
		Return(wallet.MethodPersonalSign, "0x5ig")

	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)

	mgr := session.NewManager(session.Config{
		Resolver: staticResolver{p: p},
		Prefs:    prefs.NewMemoryStore(),
		Logger:   discard(),
	})
	t.Cleanup(mgr.Close)

	c, err := contract.New(contract.DefaultAddress)
	require.NoError(t, err)
	sub := executor.New(c, network.BSCTestnet, mgr, nil, executor.Config{PollInterval: time.Millisecond}, discard())
	guard := network.NewGuard(network.BSCTestnet, mgr, mgr, discard())
	client := backend.NewClient(srv.URL+"/api/", 5*time.Second)

	markets := NewMarketService(client, market.NewBook(), nil, discard())
	_, err = markets.Refresh(context.Background(), backend.ListOpts{})
	require.NoError(t, err)

	txs := &memTxs{}
	sent := &recordSender{}
	svc := NewBettingService(Deps{
		Sessions: mgr,
		Guard:    guard,
		Chain:    sub,
		Recorder: client,
		Markets:  markets,
		Txs:      txs,
		Notifier: notify.NewNotifier([]notify.Sender{sent}, nil, discard()),
		Dedup:    NewDedup(time.Minute),
		Logger:   discard(),
	})
	return &harness{provider: p, sessions: mgr, backend: fb, txs: txs, sent: sent, svc: svc, markets: markets}
}

func TestPlaceBetEndToEnd(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.PlaceBet(context.Background(), BetRequest{Market: "m1", IsYes: true, Amount: "0.05", Page: 2})
	require.NoError(t, err)

	assert.Equal(t, txHash, res.Hash)
	assert.Equal(t, "0x61", res.ChainID)
	assert.Equal(t, "https://testnet.bscscan.com/tx/"+txHash, res.ExplorerURL)
	assert.Equal(t, int64(3), res.OnChainID)
	assert.True(t, res.Synced)
	assert.Empty(t, res.Warning)

	// Connected, switched to the target chain, then sent.
	assert.Equal(t, 1, h.provider.Calls(wallet.MethodRequestAccounts))
	assert.Equal(t, 1, h.provider.Calls(wallet.MethodSwitchChain))
	assert.Equal(t, "0x61", h.sessions.Session().ChainID)

	posts := h.backend.postsTo("/api/market/betting")
	require.Len(t, posts, 1)
	assert.Equal(t, bettor, posts[0]["player"])
	assert.Equal(t, "m1", posts[0]["market_id"])
	assert.EqualValues(t, 3, posts[0]["onChainId"])
	assert.EqualValues(t, 0.05, posts[0]["amount"])
	assert.Equal(t, true, posts[0]["isYes"])
	assert.EqualValues(t, 2, posts[0]["currentPage"])
	assert.Equal(t, txHash, posts[0]["txHash"])
	assert.Equal(t, "0x61", posts[0]["chainId"])

	recs := h.txs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TxKindBet, recs[0].Kind)
	assert.Equal(t, "3", recs[0].OnChainID)
	assert.Equal(t, "0.05", recs[0].Amount)
	assert.True(t, recs[0].BackendSynced)

	// Initial load plus the refresh after the bet.
	assert.Equal(t, 2, h.backend.listCount())
	assert.Equal(t, []string{"Bet placed"}, h.sent.titles)
}

func TestPlaceBetSyncFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.backend.setFail(true)

	res, err := h.svc.PlaceBet(context.Background(), BetRequest{Market: "3", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, txHash, res.Hash)
	assert.False(t, res.Synced)
	assert.Equal(t, SyncWarning, res.Warning)

	recs := h.txs.all()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].BackendSynced)
	assert.Equal(t, 1, h.backend.listCount(), "no refresh after a failed sync")
	assert.Equal(t, []string{"Backend sync failed", "Bet placed"}, h.sent.titles)

	// The record is replayed once the backend recovers.
	h.backend.setFail(false)
	n, err := h.svc.Resync(context.Background(), h.txs, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.txs.all()[0].BackendSynced)
	assert.Len(t, h.backend.postsTo("/api/market/betting"), 2)
}

func TestPlaceBetUserRejected(t *testing.T) {
	h := newHarness(t)
	h.provider.Fail(wallet.MethodSendTransaction, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})

	_, err := h.svc.PlaceBet(context.Background(), BetRequest{Market: "m1", Amount: "0.1"})
	require.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Empty(t, h.backend.postsTo("/api/market/betting"))
	assert.Empty(t, h.txs.all())
	assert.Empty(t, h.sent.titles)

	// A rejected attempt does not block an immediate retry.
	h.provider.Return(wallet.MethodSendTransaction, txHash)
	_, err = h.svc.PlaceBet(context.Background(), BetRequest{Market: "m1", Amount: "0.1"})
	require.NoError(t, err)
}

func TestPlaceBetInvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PlaceBet(context.Background(), BetRequest{Market: "m1", Amount: "0"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.PlaceBet(context.Background(), BetRequest{Market: "unknown", Amount: "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.provider.Log())
}

func TestPlaceBetWalletUnavailable(t *testing.T) {
	h := newHarness(t)
	mgr := session.NewManager(session.Config{Resolver: staticResolver{}, Prefs: prefs.NewMemoryStore(), Logger: discard()})
	h.svc.Sessions = mgr

	_, err := h.svc.PlaceBet(context.Background(), BetRequest{Market: "m1", Amount: "1"})
	assert.ErrorIs(t, err, domain.ErrWalletUnavailable)
}

func TestProvideLiquidity(t *testing.T) {
	h := newHarness(t)
	h.svc.now = func() time.Time { return time.UnixMilli(1741064767008) }

	res, err := h.svc.ProvideLiquidity(context.Background(), LiquidityRequest{Market: "m1", Amount: "0.25"})
	require.NoError(t, err)
	assert.True(t, res.Synced)

	posts := h.backend.postsTo("/api/market/liquidity")
	require.Len(t, posts, 1)
	assert.Equal(t, "0x5ig", posts[0]["signature"])
	assert.Equal(t, bettor, posts[0]["investor"])
	assert.Equal(t, true, posts[0]["active"])
	assert.Equal(t, txHash, posts[0]["txHash"])
	assert.Equal(t,
		"Prediction Market Liquidity Deposit\nMarket: m1\nAmount (BNB): 0.25\nTimestamp: 1741064767008",
		posts[0]["signedMessage"])

	recs := h.txs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TxKindLiquidity, recs[0].Kind)
	assert.Nil(t, recs[0].IsYes)
}

func TestWithdrawAndClaim(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Withdraw(context.Background(), WithdrawRequest{Market: "m1", Amount: "0.5"})
	require.NoError(t, err)
	require.Len(t, h.backend.postsTo("/api/market/withdraw"), 1)

	res, err := h.svc.Claim(context.Background(), "m1", domain.TxKindClaimWinnings)
	require.NoError(t, err)
	assert.True(t, res.Synced)

	_, err = h.svc.Claim(context.Background(), "m1", domain.TxKindBet)
	assert.Error(t, err)

	kinds := []domain.TxKind{}
	for _, r := range h.txs.all() {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []domain.TxKind{domain.TxKindWithdraw, domain.TxKindClaimWinnings}, kinds)
}

func TestResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tgt, err := h.markets.Resolve(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tgt.OnChainID)
	assert.Equal(t, "Will BNB close above 700?", tgt.Record.Question)

	tgt, err = h.markets.Resolve(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "m1", tgt.Record.ID)

	tgt, err = h.markets.Resolve(ctx, "99")
	require.NoError(t, err)
	assert.Equal(t, int64(99), tgt.OnChainID)
	assert.Empty(t, tgt.Record.ID)

	legacy := int64(5)
	h.markets.Book().Upsert(market.Raw{"_id": "old", "marketId": json.Number("5")})
	tgt, err = h.markets.Resolve(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, legacy, tgt.OnChainID)

	h.markets.Book().Upsert(market.Raw{"_id": "orphan"})
	_, err = h.markets.Resolve(ctx, "orphan")
	assert.ErrorIs(t, err, domain.ErrInvalidMarketID)

	_, err = h.markets.Resolve(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidMarketID)
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.Claim("a"))
	assert.False(t, d.Claim("a"))
	d.Release("a")
	assert.True(t, d.Claim("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.True(t, d.Claim("a"))

	var disabled *Dedup
	assert.True(t, disabled.Claim("x"))
	assert.True(t, disabled.Claim("x"))
}

func TestLiquidityMessage(t *testing.T) {
	msg := LiquidityMessage("m9", "1.5", time.UnixMilli(42))
	assert.True(t, strings.HasPrefix(msg, "Prediction Market Liquidity Deposit\n"))
	assert.True(t, strings.HasSuffix(msg, "Timestamp: 42"))
}
