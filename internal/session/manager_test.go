package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/prefs"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/alanyoungcy/bnbmarket/internal/wallet/wallettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "0xDEF0000000000000000000000000000000000001"

type fixture struct {
	mm    *wallettest.Provider
	tw    *wallettest.Provider
	prefs *prefs.MemoryStore
	mgr   *Manager
}

func newFixture(t *testing.T, platform Platform) *fixture {
	t.Helper()
	f := &fixture{
		mm:    wallettest.Connected(wallettest.MetaMask(), account, "0x61"),
		tw:    wallettest.Connected(wallettest.Trust(), "0xAAA0000000000000000000000000000000000002", "0x38"),
		prefs: prefs.NewMemoryStore(),
	}
	env := wallet.Environment{Ethereum: wallettest.NewMulti(f.mm, f.tw)}
	f.mgr = NewManager(Config{
		Resolver: wallet.NewRegistry(env),
		Prefs:    f.prefs,
		Platform: platform,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(f.mgr.Close)
	return f
}

func storedPref(t *testing.T, s domain.PreferenceStore) (domain.WalletType, bool) {
	t.Helper()
	wt, ok, err := s.Read(context.Background())
	require.NoError(t, err)
	return wt, ok
}

func TestConnectFallsBackToMetaMask(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "0xdef0000000000000000000000000000000000001", sess.Address)
	assert.Equal(t, "0x61", sess.ChainID)
	assert.Equal(t, domain.WalletMetaMask, sess.WalletType)
	assert.Equal(t, StateConnected, f.mgr.State())
	assert.Same(t, f.mm, f.mgr.Provider())

	wt, ok := storedPref(t, f.prefs)
	assert.True(t, ok)
	assert.Equal(t, domain.WalletMetaMask, wt)

	assert.Equal(t, 1, f.mm.ListenerCount(wallet.EventAccountsChanged))
	assert.Equal(t, 1, f.mm.ListenerCount(wallet.EventChainChanged))
}

func TestConnectPreferencePrecedence(t *testing.T) {
	f := newFixture(t, nil)
	f.prefs.SetRaw("trustwallet")

	sess, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletTrustWallet, sess.WalletType)

	sess, err = f.mgr.Connect(context.Background(), domain.WalletMetaMask)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletMetaMask, sess.WalletType)
}

func TestConcurrentConnectCollapses(t *testing.T) {
	f := newFixture(t, nil)

	release := make(chan struct{})
	f.mm.Handle(wallet.MethodRequestAccounts, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []string{account}, nil
	})

	var wg sync.WaitGroup
	results := make([]domain.WalletSession, 2)
	errs := make([]error, 2)
	start := func(i int) {
		defer wg.Done()
		results[i], errs[i] = f.mgr.Connect(context.Background(), "")
	}

	wg.Add(1)
	go start(0)
	require.Eventually(t, func() bool { return f.mm.Calls(wallet.MethodRequestAccounts) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, f.mgr.State())

	wg.Add(1)
	go start(1)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, f.mm.Calls(wallet.MethodRequestAccounts))
}

func TestConnectFailureClearsSession(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)

	f.tw.Fail(wallet.MethodRequestAccounts, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})
	_, err = f.mgr.Connect(context.Background(), domain.WalletTrustWallet)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUserRejected)

	snap := f.mgr.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.Address)
	assert.Empty(t, snap.ChainID)
	assert.Nil(t, f.mgr.Provider())
	assert.Equal(t, 0, f.mm.ListenerCount(wallet.EventAccountsChanged))
	assert.Equal(t, 0, f.tw.ListenerCount(wallet.EventAccountsChanged))

	wt, _ := storedPref(t, f.prefs)
	assert.Equal(t, domain.WalletMetaMask, wt)
}

func TestConnectEmptyAccounts(t *testing.T) {
	f := newFixture(t, nil)
	f.mm.Return(wallet.MethodRequestAccounts, []string{})

	_, err := f.mgr.Connect(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, StateDisconnected, f.mgr.State())
}

func TestConnectInvalidChainID(t *testing.T) {
	f := newFixture(t, nil)
	f.mm.Return(wallet.MethodChainID, "mainnet")

	_, err := f.mgr.Connect(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, f.mgr.State())
}

type recordingPlatform struct {
	agent string
	urls  []string
}

func (p *recordingPlatform) UserAgent() string  { return p.agent }
func (p *recordingPlatform) CurrentURL() string { return "https://app.example.com/markets" }
func (p *recordingPlatform) Redirect(_ context.Context, url string) error {
	p.urls = append(p.urls, url)
	return nil
}

func newEmptyManager(platform Platform) *Manager {
	return NewManager(Config{
		Resolver: wallet.NewRegistry(wallet.Environment{}),
		Prefs:    prefs.NewMemoryStore(),
		Platform: platform,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestConnectUnavailableDesktop(t *testing.T) {
	platform := &recordingPlatform{agent: "Mozilla/5.0 (X11; Linux x86_64)"}
	m := newEmptyManager(platform)

	_, err := m.Connect(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrWalletUnavailable)
	assert.Empty(t, platform.urls)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectUnavailableMobileRedirects(t *testing.T) {
	platform := &recordingPlatform{agent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"}
	m := newEmptyManager(platform)

	_, err := m.Connect(context.Background(), domain.WalletTrustWallet)
	assert.ErrorIs(t, err, domain.ErrWalletUnavailable)
	require.Len(t, platform.urls, 1)
	assert.Equal(t, "https://link.trustwallet.com/open_url?coin_id=60&url=https%3A%2F%2Fapp.example.com%2Fmarkets", platform.urls[0])

	_, err = m.Connect(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrWalletUnavailable)
	require.Len(t, platform.urls, 2)
	assert.Equal(t, "https://metamask.app.link/dapp/app.example.com/markets", platform.urls[1])
}

func TestAccountsChanged(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)

	f.mm.Emit(wallet.EventAccountsChanged, []string{"0xABC0000000000000000000000000000000000003"})
	sess := f.mgr.Session()
	assert.Equal(t, "0xabc0000000000000000000000000000000000003", sess.Address)
	assert.Equal(t, "0x61", sess.ChainID)
	assert.Equal(t, StateConnected, f.mgr.State())

	f.mm.Emit(wallet.EventAccountsChanged, []string{})
	snap := f.mgr.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.Equal(t, domain.WalletSession{}, snap.WalletSession)
	_, ok := storedPref(t, f.prefs)
	assert.False(t, ok)
	assert.Equal(t, 0, f.mm.ListenerCount(wallet.EventAccountsChanged))
}

func TestChainChanged(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)

	f.mm.Emit(wallet.EventChainChanged, "0x38")
	sess := f.mgr.Session()
	assert.Equal(t, "0x38", sess.ChainID)
	assert.Equal(t, "0xdef0000000000000000000000000000000000001", sess.Address)
}

func TestProviderSwapDetachesOldListeners(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Connect(context.Background(), domain.WalletMetaMask)
	require.NoError(t, err)
	_, err = f.mgr.Connect(context.Background(), domain.WalletTrustWallet)
	require.NoError(t, err)

	assert.Equal(t, 0, f.mm.ListenerCount(wallet.EventAccountsChanged))
	assert.Equal(t, 0, f.mm.ListenerCount(wallet.EventChainChanged))
	assert.Equal(t, 1, f.tw.ListenerCount(wallet.EventAccountsChanged))

	f.mm.Emit(wallet.EventAccountsChanged, []string{})
	assert.Equal(t, StateConnected, f.mgr.State())
	assert.Equal(t, domain.WalletTrustWallet, f.mgr.Session().WalletType)
}

func TestReconnectSameProviderKeepsSingleListener(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		_, err := f.mgr.Connect(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.mm.ListenerCount(wallet.EventAccountsChanged))
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)

	f.mgr.Disconnect(context.Background())
	assert.Equal(t, StateDisconnected, f.mgr.State())
	assert.False(t, f.mgr.Session().Connected())
	_, ok := storedPref(t, f.prefs)
	assert.False(t, ok)
	assert.Equal(t, 0, f.mm.ListenerCount(wallet.EventChainChanged))

	_, _, err = f.mgr.RequireConnected()
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestEagerConnectRestoresWithoutPrompt(t *testing.T) {
	f := newFixture(t, nil)
	f.prefs.SetRaw("trustwallet")

	f.mgr.EagerConnect(context.Background())
	sess := f.mgr.Session()
	assert.True(t, sess.Connected())
	assert.Equal(t, domain.WalletTrustWallet, sess.WalletType)
	assert.Equal(t, 0, f.tw.Calls(wallet.MethodRequestAccounts))
	assert.Equal(t, 1, f.tw.Calls(wallet.MethodAccounts))
}

func TestEagerConnectSwallowsFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.mm.Fail(wallet.MethodAccounts, errors.New("extension crashed"))
	f.mgr.EagerConnect(context.Background())
	assert.Equal(t, StateDisconnected, f.mgr.State())

	f.mm.Return(wallet.MethodAccounts, []string{})
	f.mgr.EagerConnect(context.Background())
	assert.Equal(t, StateDisconnected, f.mgr.State())
	assert.Equal(t, 0, f.mm.Calls(wallet.MethodRequestAccounts))
}

func TestSetChainIDAndSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	updates, cancel := f.mgr.Subscribe()
	defer cancel()

	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)
	f.mgr.SetChainID("0x38")

	var last Snapshot
	timeout := time.After(time.Second)
	for last.ChainID != "0x38" {
		select {
		case last = <-updates:
		case <-timeout:
			t.Fatal("no snapshot with updated chain")
		}
	}
	assert.True(t, last.Connected)
	assert.Equal(t, StateConnected, last.State)

	raw, err := json.Marshal(last)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"connected","address":"0xdef0000000000000000000000000000000000001","chainId":"0x38","walletType":"metamask","connected":true}`, string(raw))
}

type failingStore struct{ writes int }

func (s *failingStore) Read(context.Context) (domain.WalletType, bool, error) {
	return "", false, errors.New("connection refused")
}

func (s *failingStore) Write(context.Context, *domain.WalletType) error {
	s.writes++
	return errors.New("redis: write preference: connection refused")
}

func TestConnectSurvivesPreferenceFailure(t *testing.T) {
	mm := wallettest.Connected(wallettest.MetaMask(), account, "0x61")
	store := &failingStore{}
	m := NewManager(Config{
		Resolver: wallet.NewRegistry(wallet.Environment{Ethereum: mm}),
		Prefs:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(m.Close)

	sess, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, sess.Connected())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, store.writes)
	assert.Equal(t, 1, mm.Calls(wallet.MethodRequestAccounts))
	assert.Equal(t, 1, mm.ListenerCount(wallet.EventAccountsChanged))

	m.Disconnect(context.Background())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 2, store.writes)
}

func TestBalanceTracksSession(t *testing.T) {
	f := newFixture(t, nil)
	f.mm.Return(wallet.MethodGetBalance, "0x14d1120d7b160000")

	_, err := f.mgr.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1.5", f.mgr.Snapshot().Balance)

	last, ok := f.mm.Last(wallet.MethodGetBalance)
	require.True(t, ok)
	assert.JSONEq(t, `["0xdef0000000000000000000000000000000000001","latest"]`, string(last.Params))

	f.mm.Return(wallet.MethodGetBalance, "0xde0b6b3a7640000")
	f.mm.Emit(wallet.EventAccountsChanged, []string{"0xABC0000000000000000000000000000000000003"})
	assert.Equal(t, "1", f.mgr.Snapshot().Balance)
	last, _ = f.mm.Last(wallet.MethodGetBalance)
	assert.JSONEq(t, `["0xabc0000000000000000000000000000000000003","latest"]`, string(last.Params))

	f.mm.Return(wallet.MethodGetBalance, "0x0")
	f.mm.Emit(wallet.EventChainChanged, "0x38")
	snap := f.mgr.Snapshot()
	assert.Equal(t, "0", snap.Balance)
	assert.Equal(t, 3, f.mm.Calls(wallet.MethodGetBalance))

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"connected","address":"0xabc0000000000000000000000000000000000003","chainId":"0x38","walletType":"metamask","connected":true,"balance":"0"}`, string(raw))

	f.mm.Fail(wallet.MethodGetBalance, errors.New("rpc down"))
	f.mm.Emit(wallet.EventChainChanged, "0x61")
	assert.Empty(t, f.mgr.Snapshot().Balance)

	f.mgr.Disconnect(context.Background())
	assert.Empty(t, f.mgr.Snapshot().Balance)
}
