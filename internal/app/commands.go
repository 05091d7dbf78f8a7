package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/crypto"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/service"
)

// ErrUsage is returned when a command's arguments are invalid.
var ErrUsage = errors.New("usage error")

type command struct {
	summary string
	// signs is set for commands that need the wallet key.
	signs bool
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"markets":      {"list one page of markets", false, (*App).cmdMarkets},
	"connect":      {"connect the wallet and print the session", true, (*App).cmdConnect},
	"bet":          {"place a bet on a market", true, (*App).cmdBet},
	"fund":         {"provide liquidity to a market", true, (*App).cmdFund},
	"withdraw":     {"withdraw liquidity from a market", true, (*App).cmdWithdraw},
	"claim":        {"claim winnings, liquidity fees or a refund", true, (*App).cmdClaim},
	"encrypt-key":  {"write an encrypted key file", false, (*App).cmdEncryptKey},
	"upload-image": {"upload a market image", false, (*App).cmdUploadImage},
	"archive":      {"archive an account's transaction history", false, (*App).cmdArchive},
}

// CommandMode returns the mode whose configuration checks apply to a
// command: "server" when it signs, "watch" otherwise. ok is false for an
// unknown command.
func CommandMode(name string) (mode string, ok bool) {
	cmd, ok := commands[name]
	if !ok {
		return "", false
	}
	if cmd.signs {
		return "server", true
	}
	return "watch", true
}

// Commands returns the command names with their summaries, sorted by name.
func Commands() [][2]string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, name := range names {
		out = append(out, [2]string{name, commands[name].summary})
	}
	return out
}

// Command runs a one-shot command and returns when it finishes.
func (a *App) Command(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}
	return cmd.run(a, ctx, args)
}

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) cmdMarkets(ctx context.Context, args []string) error {
	fs := a.flags("markets")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", a.cfg.Backend.PageSize, "markets per page")
	status := fs.String("status", domain.MarketStatusActive, "market status")
	field := fs.Int("field", -1, "market category, -1 for all")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *page < 1 || *limit < 1 {
		return fmt.Errorf("%w: page and limit must be positive", ErrUsage)
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	opts := backend.ListOpts{Page: *page, Limit: *limit, Status: *status}
	if *field >= 0 {
		opts.Field = field
	}
	pg, err := deps.Markets.Refresh(ctx, opts)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(pg)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tSTATUS\tYES%\tPOOL\tQUESTION")
	for i, rec := range pg.Markets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			market.Identifier(rec, (pg.Page-1)*pg.Limit+i),
			rec.ID,
			rec.MarketStatus,
			market.YesPercentage(rec),
			strconv.FormatFloat(rec.TotalInvestment, 'f', -1, 64),
			rec.Question,
		)
	}
	fmt.Fprintf(tw, "\npage %d, %d of %d markets\n", pg.Page, len(pg.Markets), pg.Total)
	return tw.Flush()
}

func (a *App) cmdConnect(ctx context.Context, args []string) error {
	fs := a.flags("connect")
	vendor := fs.String("wallet", a.cfg.Wallet.Preferred, "wallet to connect (metamask, trustwallet)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	wt, err := walletArg(*vendor)
	if err != nil {
		return err
	}

	w, err := a.signer(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Sessions.Connect(ctx, wt); err != nil {
		return err
	}
	return a.printJSON(w.Sessions.Snapshot())
}

func (a *App) cmdBet(ctx context.Context, args []string) error {
	fs := a.flags("bet")
	ref := fs.String("market", "", "market id or on-chain index")
	side := fs.String("side", "", "yes or no")
	amount := fs.String("amount", "", "stake in BNB")
	page := fs.Int("page", 1, "listing page refreshed afterwards")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	isYes, err := parseSide(*side)
	if err != nil {
		return err
	}
	if err := requireArgs("bet", map[string]string{"market": *ref, "amount": *amount}); err != nil {
		return err
	}

	w, err := a.signer(ctx)
	if err != nil {
		return err
	}
	res, err := w.Betting.PlaceBet(ctx, service.BetRequest{Market: *ref, IsYes: isYes, Amount: *amount, Page: *page})
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) cmdFund(ctx context.Context, args []string) error {
	fs := a.flags("fund")
	ref := fs.String("market", "", "market id or on-chain index")
	amount := fs.String("amount", "", "deposit in BNB")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireArgs("fund", map[string]string{"market": *ref, "amount": *amount}); err != nil {
		return err
	}

	w, err := a.signer(ctx)
	if err != nil {
		return err
	}
	res, err := w.Betting.ProvideLiquidity(ctx, service.LiquidityRequest{Market: *ref, Amount: *amount})
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) cmdWithdraw(ctx context.Context, args []string) error {
	fs := a.flags("withdraw")
	ref := fs.String("market", "", "market id or on-chain index")
	amount := fs.String("amount", "", "amount in BNB")
	side := fs.String("side", "no", "side recorded with the withdrawal (yes or no)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	isYes, err := parseSide(*side)
	if err != nil {
		return err
	}
	if err := requireArgs("withdraw", map[string]string{"market": *ref, "amount": *amount}); err != nil {
		return err
	}

	w, err := a.signer(ctx)
	if err != nil {
		return err
	}
	res, err := w.Betting.Withdraw(ctx, service.WithdrawRequest{Market: *ref, Amount: *amount, IsYes: isYes})
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) cmdClaim(ctx context.Context, args []string) error {
	fs := a.flags("claim")
	ref := fs.String("market", "", "market id or on-chain index")
	kind := fs.String("kind", string(domain.TxKindClaimWinnings), "claim_winnings, claim_liquidity_fees or refund")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireArgs("claim", map[string]string{"market": *ref}); err != nil {
		return err
	}
	k := domain.TxKind(*kind)
	switch k {
	case domain.TxKindClaimWinnings, domain.TxKindClaimLiquidityFee, domain.TxKindRefund:
	default:
		return fmt.Errorf("%w: claim: unknown kind %q", ErrUsage, *kind)
	}

	w, err := a.signer(ctx)
	if err != nil {
		return err
	}
	res, err := w.Betting.Claim(ctx, *ref, k)
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) cmdEncryptKey(ctx context.Context, args []string) error {
	fs := a.flags("encrypt-key")
	out := fs.String("out", a.cfg.Wallet.EncryptedKeyPath, "key file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("%w: encrypt-key: -out is required", ErrUsage)
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("encrypt-key: %s exists (use -force to overwrite)", *out)
	}

	raw := a.cfg.Wallet.PrivateKey
	if raw == "" {
		var err error
		if raw, err = a.prompt("private key: ")(); err != nil {
			return fmt.Errorf("encrypt-key: %w", err)
		}
	}
	key, err := crypto.ParseKey(strings.TrimSpace(raw))
	if err != nil {
		return err
	}

	password, err := a.prompt("new key password: ")()
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	confirm, err := a.prompt("repeat password: ")()
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if password == "" || password != confirm {
		return errors.New("encrypt-key: passwords are empty or do not match")
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("encrypt-key: %w", err)
		}
	}
	if err := crypto.WriteKeyFile(*out, key, password); err != nil {
		return err
	}
	return a.printJSON(map[string]string{
		"address": strings.ToLower(crypto.NewSigner(key).Address().Hex()),
		"path":    *out,
	})
}

func (a *App) cmdUploadImage(ctx context.Context, args []string) error {
	fs := a.flags("upload-image")
	file := fs.String("file", "", "image to upload")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireArgs("upload-image", map[string]string{"file": *file}); err != nil {
		return err
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.ImageUploader == nil {
		return errors.New("upload-image: s3 is not enabled")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("upload-image: %w", err)
	}
	defer f.Close()

	url, err := deps.ImageUploader.UploadImage(ctx, filepath.Base(*file), f)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]string{"imageUrl": url})
}

func (a *App) cmdArchive(ctx context.Context, args []string) error {
	fs := a.flags("archive")
	account := fs.String("account", "", "account address")
	before := fs.String("before", "", "archive records created before this RFC3339 time or YYYY-MM-DD date (default now)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireArgs("archive", map[string]string{"account": *account}); err != nil {
		return err
	}
	cutoff, err := parseCutoff(*before, time.Now().UTC())
	if err != nil {
		return err
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.Archiver == nil {
		return errors.New("archive: postgres and s3 must both be enabled")
	}

	key, n, err := deps.Archiver.ArchiveAccount(ctx, *account, cutoff)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{"key": key, "records": n})
}

// signer wires storage and the wallet for a command that signs.
func (a *App) signer(ctx context.Context) (*Wallet, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return nil, err
	}
	return a.wireWallet(ctx, deps)
}

func parseSide(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%w: side must be yes or no, got %q", ErrUsage, s)
}

func walletArg(s string) (domain.WalletType, error) {
	if s == "" {
		return "", nil
	}
	wt, ok := domain.ParseWalletType(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		return "", fmt.Errorf("%w: unknown wallet %q", ErrUsage, s)
	}
	return wt, nil
}

func requireArgs(cmd string, args map[string]string) error {
	var missing []string
	for name, v := range args {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s: missing %s", ErrUsage, cmd, strings.Join(missing, ", "))
}

func parseCutoff(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q", ErrUsage, s)
}
