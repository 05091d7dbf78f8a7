package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/service"
	"github.com/alanyoungcy/bnbmarket/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type fakeSessions struct {
	snap       session.Snapshot
	connectErr error
	preferred  domain.WalletType
}

func (f *fakeSessions) Snapshot() session.Snapshot { return f.snap }

func (f *fakeSessions) Connect(_ context.Context, preferred domain.WalletType) (domain.WalletSession, error) {
	f.preferred = preferred
	if f.connectErr != nil {
		return domain.WalletSession{}, f.connectErr
	}
	f.snap = session.Snapshot{
		State:         session.StateConnected,
		WalletSession: domain.WalletSession{Address: "0xabc", ChainID: "0x61", WalletType: domain.WalletMetaMask},
		Connected:     true,
	}
	return f.snap.WalletSession, nil
}

func (f *fakeSessions) Disconnect(context.Context) { f.snap = session.Snapshot{} }

type fakeGuard struct {
	desired string
	err     error
}

func (g *fakeGuard) SwitchToTargetChain(_ context.Context, desired string) error {
	g.desired = desired
	return g.err
}

func TestSessionConnectFlow(t *testing.T) {
	s := &fakeSessions{}
	h := NewSessionHandler(s, &fakeGuard{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Connect(rec, httptest.NewRequest(http.MethodPost, "/api/session/connect", strings.NewReader(`{"walletType":"metamask"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.WalletMetaMask, s.preferred)
	body := decode(t, rec)
	assert.Equal(t, "0xabc", body["address"])
	assert.Equal(t, "connected", body["state"])

	rec = httptest.NewRecorder()
	h.Disconnect(rec, httptest.NewRequest(http.MethodPost, "/api/session/disconnect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["connected"])
}

func TestSessionConnectErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"unknown wallet", `{"walletType":"phantom"}`, nil, http.StatusBadRequest},
		{"unknown field", `{"wallet":"metamask"}`, nil, http.StatusBadRequest},
		{"no wallet", `{}`, domain.ErrWalletUnavailable, http.StatusServiceUnavailable},
		{"rejected", `{}`, fmt.Errorf("session: %w", domain.ErrUserRejected), http.StatusForbidden},
		{"unexpected", `{}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionHandler(&fakeSessions{connectErr: tt.err}, &fakeGuard{}, discardLogger())
			rec := httptest.NewRecorder()
			h.Connect(rec, httptest.NewRequest(http.MethodPost, "/api/session/connect", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSwitchNetwork(t *testing.T) {
	s := &fakeSessions{}
	g := &fakeGuard{}
	h := NewSessionHandler(s, g, discardLogger())

	rec := httptest.NewRecorder()
	h.SwitchNetwork(rec, httptest.NewRequest(http.MethodPost, "/api/network/switch", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.snap.Connected = true
	rec = httptest.NewRecorder()
	h.SwitchNetwork(rec, httptest.NewRequest(http.MethodPost, "/api/network/switch", strings.NewReader(`{"chainId":"0x38"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0x38", g.desired)

	g.err = domain.ErrUnknownChain
	rec = httptest.NewRecorder()
	h.SwitchNetwork(rec, httptest.NewRequest(http.MethodPost, "/api/network/switch", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "", g.desired)
}

type fakeMarkets struct {
	opts    backend.ListOpts
	records map[string]domain.MarketRecord
	err     error
}

func (f *fakeMarkets) Refresh(_ context.Context, opts backend.ListOpts) (service.Page, error) {
	f.opts = opts
	if f.err != nil {
		return service.Page{}, f.err
	}
	var recs []domain.MarketRecord
	for _, id := range []string{"m1", "m2"} {
		if r, ok := f.records[id]; ok {
			recs = append(recs, r)
		}
	}
	return service.Page{Markets: recs, Total: len(recs), Page: opts.Page, Limit: opts.Limit}, nil
}

func (f *fakeMarkets) Get(_ context.Context, id string) (domain.MarketRecord, error) {
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return domain.MarketRecord{}, domain.ErrNotFound
}

func (f *fakeMarkets) GetByOnChainID(_ context.Context, id int64) (domain.MarketRecord, error) {
	for _, r := range f.records {
		if r.OnChainID != nil && *r.OnChainID == id {
			return r, nil
		}
	}
	return domain.MarketRecord{}, domain.ErrNotFound
}

func ptr[T any](v T) *T { return &v }

func testMarkets() *fakeMarkets {
	return &fakeMarkets{records: map[string]domain.MarketRecord{
		"m1": {
			ID: "m1", OnChainID: ptr(int64(7)), Question: "BTC above 100k?",
			PlayerACount: 3, PlayerBCount: 1,
			PlayerA: []domain.BetEntry{{Player: "0x1", Amount: 3, Timestamp: "2025-01-01T00:00:00Z"}},
			PlayerB: []domain.BetEntry{{Player: "0x2", Amount: 1, Timestamp: "2025-01-02T00:00:00Z"}},
		},
		"m2": {ID: "m2", Question: "ETH flips BTC?"},
	}}
}

func TestListMarkets(t *testing.T) {
	m := testMarkets()
	h := NewMarketHandler(m, 10, discardLogger())

	rec := httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?page=2&limit=5&status=ACTIVE&field=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, m.opts.Page)
	assert.Equal(t, 5, m.opts.Limit)
	assert.Equal(t, "ACTIVE", m.opts.Status)
	require.NotNil(t, m.opts.Field)
	assert.Equal(t, 1, *m.opts.Field)

	var body listMarketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Markets, 2)
	assert.Equal(t, int64(7), body.Markets[0].Identifier)
	assert.Equal(t, 75, body.Markets[0].YesPercentage)
	// No on-chain id: falls back to the listing position, 1-based.
	assert.Equal(t, int64(7), body.Markets[1].Identifier)
	assert.Equal(t, 50, body.Markets[1].YesPercentage)
}

func TestListMarketsDefaultsAndErrors(t *testing.T) {
	m := testMarkets()
	h := NewMarketHandler(m, 0, discardLogger())

	rec := httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?page=-3&limit=1000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, m.opts.Page)
	assert.Equal(t, 100, m.opts.Limit)
	assert.Nil(t, m.opts.Field)

	rec = httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?field=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m.err = errors.New("backend down")
	rec = httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "list markets failed", decode(t, rec)["error"])
}

func TestGetMarket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", NewMarketHandler(testMarkets(), 10, discardLogger()).GetMarket)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "m1", body["_id"])
	assert.Equal(t, []any{100.0, 75.0}, body["probabilityHistory"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", decode(t, rec)["_id"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeBetting struct {
	bet      service.BetRequest
	claimed  domain.TxKind
	err      error
	response service.Result
}

func (f *fakeBetting) PlaceBet(_ context.Context, req service.BetRequest) (service.Result, error) {
	f.bet = req
	return f.response, f.err
}

func (f *fakeBetting) ProvideLiquidity(context.Context, service.LiquidityRequest) (service.Result, error) {
	return f.response, f.err
}

func (f *fakeBetting) Withdraw(context.Context, service.WithdrawRequest) (service.Result, error) {
	return f.response, f.err
}

func (f *fakeBetting) Claim(_ context.Context, _ string, kind domain.TxKind) (service.Result, error) {
	f.claimed = kind
	return f.response, f.err
}

func TestPlaceBet(t *testing.T) {
	b := &fakeBetting{response: service.Result{
		TransactionResult: domain.TransactionResult{Hash: "0xfeed", ChainID: "0x61"},
		OnChainID:         7,
		Account:           "0xabc",
		Warning:           service.SyncWarning,
	}}
	h := NewTxHandler(b, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.PlaceBet(rec, httptest.NewRequest(http.MethodPost, "/api/bets", strings.NewReader(`{"market":"m1","isYes":true,"amount":"0.1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.BetRequest{Market: "m1", IsYes: true, Amount: "0.1"}, b.bet)
	body := decode(t, rec)
	assert.Equal(t, "0xfeed", body["hash"])
	assert.Equal(t, service.SyncWarning, body["warning"])
}

func TestTxErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing amount", `{"market":"m1"}`, nil, http.StatusBadRequest},
		{"malformed", `{"market":`, nil, http.StatusBadRequest},
		{"bad amount", `{"market":"m1","amount":"-1"}`, domain.ErrInvalidAmount, http.StatusBadRequest},
		{"rejected", `{"market":"m1","amount":"1"}`, domain.ErrUserRejected, http.StatusForbidden},
		{"reverted", `{"market":"m1","amount":"1"}`, domain.ErrTransactionFailed, http.StatusBadGateway},
		{"limited", `{"market":"m1","amount":"1"}`, domain.ErrRateLimited, http.StatusTooManyRequests},
		{"in flight", `{"market":"m1","amount":"1"}`, domain.ErrDuplicate, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTxHandler(&fakeBetting{err: tt.err}, nil, discardLogger())
			rec := httptest.NewRecorder()
			h.Withdraw(rec, httptest.NewRequest(http.MethodPost, "/api/withdrawals", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestClaim(t *testing.T) {
	b := &fakeBetting{}
	h := NewTxHandler(b, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.Claim(rec, httptest.NewRequest(http.MethodPost, "/api/claims", strings.NewReader(`{"market":"7","kind":"refund"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TxKindRefund, b.claimed)

	rec = httptest.NewRecorder()
	h.Claim(rec, httptest.NewRequest(http.MethodPost, "/api/claims", strings.NewReader(`{"market":"7","kind":"bet"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeTxs struct {
	byAccount string
	byMarket  string
	opts      domain.ListOpts
}

func (f *fakeTxs) ListByAccount(_ context.Context, account string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	f.byAccount, f.opts = account, opts
	yes := true
	return []domain.TxRecord{{
		ID: "id1", Hash: "0xh", Kind: domain.TxKindBet, OnChainID: "7", Account: account,
		Amount: "0.1", IsYes: &yes, Status: domain.TxStatusConfirmed,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, nil
}

func (f *fakeTxs) ListByMarket(_ context.Context, onChainID string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	f.byMarket, f.opts = onChainID, opts
	return nil, nil
}

func TestListTransactions(t *testing.T) {
	txs := &fakeTxs{}
	h := NewTxHandler(&fakeBetting{}, txs, discardLogger())

	rec := httptest.NewRecorder()
	h.ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?account=0xabc&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", txs.byAccount)
	assert.Equal(t, 2, txs.opts.Limit)
	list := decode(t, rec)["transactions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "2025-03-01T12:00:00Z", list[0].(map[string]any)["createdAt"])

	rec = httptest.NewRecorder()
	h.ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?market=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", txs.byMarket)
	assert.Equal(t, []any{}, decode(t, rec)["transactions"])

	rec = httptest.NewRecorder()
	h.ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	NewTxHandler(&fakeBetting{}, nil, discardLogger()).ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?market=7", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeUploader struct {
	name string
	data []byte
	err  error
}

func (f *fakeUploader) UploadImage(_ context.Context, name string, data io.Reader) (string, error) {
	f.name = name
	f.data, _ = io.ReadAll(data)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example/markets/x.png", nil
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImageUpload(t *testing.T) {
	up := &fakeUploader{}
	h := NewImageHandler(up, discardLogger())

	body, ctype := multipartBody(t, "image", "logo.png", []byte("\x89PNG\r\n\x1a\nrest"))
	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "logo.png", up.name)
	assert.Equal(t, "https://cdn.example/markets/x.png", decode(t, rec)["imageUrl"])

	up.err = fmt.Errorf("s3: %w", domain.ErrInvalidImage)
	body, ctype = multipartBody(t, "image", "notes.txt", []byte("hello"))
	req = httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ctype = multipartBody(t, "file", "logo.png", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["dependencies"])

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, discardLogger()).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}
