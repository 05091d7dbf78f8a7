// Package session owns the active wallet connection: account access, the
// active chain, and the reaction to wallet-driven account and chain events.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	// nativeDecimals is the precision of BNB.
	nativeDecimals = 18
	balanceTimeout = 10 * time.Second
)

// State is the connection state of the manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is a point-in-time view of the session. Balance is the native
// balance of the account in BNB, empty until it has been read.
type Snapshot struct {
	State State `json:"state"`
	domain.WalletSession
	Connected bool   `json:"connected"`
	Balance   string `json:"balance,omitempty"`
}

// Resolver picks a provider for a preferred vendor.
type Resolver interface {
	Resolve(preferred domain.WalletType) (wallet.Provider, domain.WalletType)
}

// Platform is the environment the client runs in. Redirect opens a URL
// for the user, as a mobile browser does when following a deep link.
type Platform interface {
	UserAgent() string
	CurrentURL() string
	Redirect(ctx context.Context, url string) error
}

// Config wires a Manager.
type Config struct {
	Resolver Resolver
	Prefs    domain.PreferenceStore
	Platform Platform
	Logger   *slog.Logger
}

// Manager is the single writer of the wallet session. All exported
// methods are safe for concurrent use.
type Manager struct {
	resolver Resolver
	prefs    domain.PreferenceStore
	platform Platform
	logger   *slog.Logger
	flight   singleflight.Group

	mu        sync.RWMutex
	state     State
	session   domain.WalletSession
	balance   string
	provider  wallet.Provider
	gen       uint64
	listeners []attached
	watchers  map[int]chan Snapshot
	nextWatch int
}

type attached struct {
	provider wallet.Provider
	event    string
	id       wallet.ListenerID
}

// NewManager returns a disconnected Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolver: cfg.Resolver,
		prefs:    cfg.Prefs,
		platform: cfg.Platform,
		logger:   logger.With(slog.String("component", "session")),
		watchers: make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current state and session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, WalletSession: m.session, Connected: m.session.Connected(), Balance: m.balance}
}

// Session returns the current session.
func (m *Manager) Session() domain.WalletSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Provider returns the provider of the active session, or nil.
func (m *Manager) Provider() wallet.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider
}

// Connect establishes a session. Concurrent calls share the in-flight
// attempt. The vendor is chosen from preferred, then the stored
// preference, then the fallback order. Any failure leaves the manager
// disconnected with the session cleared. Saving the chosen vendor is best
// effort and never fails a connect.
func (m *Manager) Connect(ctx context.Context, preferred domain.WalletType) (domain.WalletSession, error) {
	v, err, _ := m.flight.Do("connect", func() (any, error) {
		return m.connect(ctx, preferred)
	})
	if err != nil {
		return domain.WalletSession{}, err
	}
	return v.(domain.WalletSession), nil
}

func (m *Manager) connect(ctx context.Context, preferred domain.WalletType) (domain.WalletSession, error) {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()
	m.broadcast()

	if preferred == "" {
		preferred = m.storedPreference(ctx)
	}

	p, wt := m.resolver.Resolve(preferred)
	if p == nil {
		m.reset()
		m.redirectToApp(ctx, preferred)
		return domain.WalletSession{}, domain.ErrWalletUnavailable
	}

	sess, err := m.handshake(ctx, p, wt, wallet.MethodRequestAccounts)
	if err == nil && sess.Address == "" {
		err = fmt.Errorf("session: no account returned from wallet: %w", domain.ErrNotConnected)
	}
	if err != nil {
		m.reset()
		m.logger.WarnContext(ctx, "connect failed",
			slog.String("wallet", string(wt)),
			slog.String("error", err.Error()),
		)
		return domain.WalletSession{}, err
	}

	m.activate(p, sess)
	m.logger.InfoContext(ctx, "wallet connected",
		slog.String("wallet", string(wt)),
		slog.String("address", sess.Address),
		slog.String("chain_id", sess.ChainID),
	)
	if err := m.prefs.Write(ctx, &wt); err != nil {
		m.logger.WarnContext(ctx, "save wallet preference",
			slog.String("wallet", string(wt)),
			slog.String("error", err.Error()),
		)
	}
	m.refreshBalance(ctx)
	return sess, nil
}

// handshake reads the accounts (with the given method) and the chain id.
// An empty account list yields a session without an address.
func (m *Manager) handshake(ctx context.Context, p wallet.Provider, wt domain.WalletType, method string) (domain.WalletSession, error) {
	accounts, err := wallet.Call[[]string](ctx, p, method, nil)
	if err != nil {
		return domain.WalletSession{}, fmt.Errorf("session: %s: %w", method, err)
	}
	if len(accounts) == 0 {
		return domain.WalletSession{WalletType: wt}, nil
	}

	chainID, err := wallet.Call[string](ctx, p, wallet.MethodChainID, nil)
	if err != nil {
		return domain.WalletSession{}, fmt.Errorf("session: read chain id: %w", err)
	}
	if _, ok := wallet.ParseChainID(chainID); !ok {
		return domain.WalletSession{}, fmt.Errorf("session: wallet returned an invalid chain id %q", chainID)
	}

	return domain.WalletSession{
		Address:    strings.ToLower(accounts[0]),
		ChainID:    chainID,
		WalletType: wt,
	}, nil
}

func (m *Manager) storedPreference(ctx context.Context) domain.WalletType {
	wt, ok, err := m.prefs.Read(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "read wallet preference", slog.String("error", err.Error()))
		return ""
	}
	if !ok {
		return ""
	}
	return wt
}

func (m *Manager) redirectToApp(ctx context.Context, wt domain.WalletType) {
	if m.platform == nil || !wallet.IsMobileUserAgent(m.platform.UserAgent()) {
		return
	}
	if wt == "" {
		wt = domain.WalletMetaMask
	}
	link := wallet.DeepLink(wt, m.platform.CurrentURL())
	if err := m.platform.Redirect(ctx, link); err != nil {
		m.logger.WarnContext(ctx, "deep link redirect failed",
			slog.String("url", link),
			slog.String("error", err.Error()),
		)
	}
}

// EagerConnect restores a session the wallet already authorized, without
// prompting. Failures are logged and otherwise ignored.
func (m *Manager) EagerConnect(ctx context.Context) {
	_, _, _ = m.flight.Do("eager", func() (any, error) {
		if m.State() != StateDisconnected {
			return nil, nil
		}

		p, wt := m.resolver.Resolve(m.storedPreference(ctx))
		if p == nil {
			return nil, nil
		}

		sess, err := m.handshake(ctx, p, wt, wallet.MethodAccounts)
		if err != nil {
			m.logger.WarnContext(ctx, "eager connect failed", slog.String("error", err.Error()))
			return nil, nil
		}
		if sess.Address == "" {
			return nil, nil
		}
		m.activate(p, sess)
		m.logger.InfoContext(ctx, "wallet session restored",
			slog.String("wallet", string(wt)),
			slog.String("address", sess.Address),
		)
		m.refreshBalance(ctx)
		return nil, nil
	})
}

// Disconnect clears the session and the stored preference.
func (m *Manager) Disconnect(ctx context.Context) {
	m.reset()
	if err := m.prefs.Write(ctx, nil); err != nil {
		m.logger.WarnContext(ctx, "clear wallet preference", slog.String("error", err.Error()))
	}
}

// SetChainID records a chain change confirmed by the wallet.
func (m *Manager) SetChainID(chainID string) {
	m.mu.Lock()
	if !m.session.Connected() || m.session.ChainID == chainID {
		m.mu.Unlock()
		return
	}
	m.session.ChainID = chainID
	m.mu.Unlock()
	m.broadcast()
}

// Close detaches from the provider without touching the stored preference.
func (m *Manager) Close() {
	m.reset()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
}

// activate installs sess and attaches listeners to p, replacing any
// listeners on a previous provider.
func (m *Manager) activate(p wallet.Provider, sess domain.WalletSession) {
	m.mu.Lock()
	if m.provider != p || len(m.listeners) == 0 {
		m.detachLocked()
		m.gen++
		gen := m.gen
		m.listeners = []attached{
			{p, wallet.EventAccountsChanged, p.On(wallet.EventAccountsChanged, func(raw json.RawMessage) {
				m.onAccountsChanged(gen, raw)
			})},
			{p, wallet.EventChainChanged, p.On(wallet.EventChainChanged, func(raw json.RawMessage) {
				m.onChainChanged(gen, raw)
			})},
		}
	}
	if m.session.Address != sess.Address || m.session.ChainID != sess.ChainID {
		m.balance = ""
	}
	m.provider = p
	m.session = sess
	m.state = StateConnected
	m.mu.Unlock()
	m.broadcast()
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.detachLocked()
	m.gen++
	m.provider = nil
	m.session = domain.WalletSession{}
	m.balance = ""
	m.state = StateDisconnected
	m.mu.Unlock()
	m.broadcast()
}

func (m *Manager) detachLocked() {
	for _, l := range m.listeners {
		l.provider.RemoveListener(l.event, l.id)
	}
	m.listeners = nil
}

func (m *Manager) onAccountsChanged(gen uint64, raw json.RawMessage) {
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		m.logger.Warn("malformed accountsChanged payload", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if len(accounts) == 0 {
		m.mu.Unlock()
		m.logger.Info("wallet reported no accounts, disconnecting")
		m.Disconnect(context.Background())
		return
	}
	if addr := strings.ToLower(accounts[0]); addr != m.session.Address {
		m.session.Address = addr
		m.balance = ""
	}
	m.mu.Unlock()
	m.broadcast()
	m.refreshBalance(context.Background())
}

func (m *Manager) onChainChanged(gen uint64, raw json.RawMessage) {
	var chainID string
	if err := json.Unmarshal(raw, &chainID); err != nil || chainID == "" {
		m.logger.Warn("malformed chainChanged payload", slog.String("payload", string(raw)))
		return
	}

	m.mu.Lock()
	if gen != m.gen || !m.session.Connected() {
		m.mu.Unlock()
		return
	}
	if m.session.ChainID != chainID {
		m.session.ChainID = chainID
		m.balance = ""
	}
	m.mu.Unlock()
	m.broadcast()
	m.refreshBalance(context.Background())
}

// refreshBalance reads the native balance of the active account. A failed
// read leaves the balance empty. The result is dropped when the account or
// chain changed during the read.
func (m *Manager) refreshBalance(ctx context.Context) {
	m.mu.RLock()
	p, addr, chainID := m.provider, m.session.Address, m.session.ChainID
	m.mu.RUnlock()
	if p == nil || addr == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	var balance string
	wei, err := wallet.Call[*hexutil.Big](ctx, p, wallet.MethodGetBalance, []any{addr, "latest"})
	switch {
	case err != nil:
		m.logger.WarnContext(ctx, "read balance failed",
			slog.String("address", addr),
			slog.String("error", err.Error()),
		)
	case wei == nil:
		balance = "0"
	default:
		balance = decimal.NewFromBigInt(wei.ToInt(), -nativeDecimals).String()
	}

	m.mu.Lock()
	if m.provider != p || m.session.Address != addr || m.session.ChainID != chainID || m.balance == balance {
		m.mu.Unlock()
		return
	}
	m.balance = balance
	m.mu.Unlock()
	m.broadcast()
}

// Subscribe returns a channel of snapshots emitted on every change and a
// function that cancels the subscription. Slow subscribers miss updates
// rather than block the manager.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.watchers[id]; ok {
				close(c)
				delete(m.watchers, id)
			}
		})
	}
}

func (m *Manager) broadcast() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshotLocked()
	for _, ch := range m.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// RequireConnected returns the session or ErrNotConnected.
func (m *Manager) RequireConnected() (domain.WalletSession, wallet.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.session.Connected() || m.provider == nil {
		return domain.WalletSession{}, nil, domain.ErrNotConnected
	}
	return m.session, m.provider, nil
}
