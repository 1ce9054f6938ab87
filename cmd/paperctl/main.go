package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/infra"
	"github.com/Capstone-Design2/Backend/internal/intake"
	"github.com/Capstone-Design2/Backend/internal/ledger"
	"github.com/Capstone-Design2/Backend/internal/storage"
)

// paperctl is the operator CLI for the paper trading ledger. It opens
// the same SQLite database as the server and routes writes through the
// same intake validation; the server's periodic book refresh picks up
// new orders without a restart.

// The server writes this key at boot pointing at the account it
// auto-created.
const defaultAccountKey = "default_account"

func main() {
	// The CLI reports outcomes itself; keep the library logs quiet
	// unless something breaks.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "account":
		err = runAccount(ctx, os.Args[2:])
	case "order":
		err = runOrder(ctx, os.Args[2:])
	case "positions":
		err = runPositions(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `paperctl manages accounts and orders in the paper trading ledger.

The running server notices new and canceled orders on its next book
refresh; nothing here requires a restart.

Usage:
  paperctl account create [--config path]
  paperctl account show [--id id]
  paperctl account activate [--id id]
  paperctl account deactivate [--id id]
  paperctl order submit --instrument 005930 --side BUY --type LIMIT --price 84000 --qty 10
  paperctl order cancel --id order-id
  paperctl order list [--account id] [--limit n]
  paperctl positions [--account id]

Account flags default to the account the server creates at boot.
`)
}

// openStore opens the server's ledger database. WAL mode and the busy
// timeout let both processes use it at the same time.
func openStore() (*storage.Store, error) {
	dataDir := filepath.Join(infra.GetWorkspaceDir(), "data")
	if err := infra.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	return storage.NewStore(filepath.Join(dataDir, "ledger.db"))
}

// storePrices values market orders from the last persisted bar close,
// the freshest price visible outside the running server.
type storePrices struct {
	store *storage.Store
}

func (p storePrices) LatestPrice(instrumentID string) (decimal.Decimal, bool) {
	price, ok, err := p.store.LatestClose(context.Background(), instrumentID)
	if err != nil || !ok {
		return decimal.Zero, false
	}
	return price, true
}

// resolveAccount expands the "default" alias to the account the server
// created at boot.
func resolveAccount(ctx context.Context, store *storage.Store, id string) (string, error) {
	if id != "default" {
		return id, nil
	}
	resolved, err := store.GetMetadata(ctx, defaultAccountKey)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", fmt.Errorf("no default account yet: run the server once, or create one with 'paperctl account create'")
	}
	return resolved, nil
}

func runAccount(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("account needs a subcommand: create, show, activate, deactivate")
	}
	switch args[0] {
	case "create":
		return accountCreate(ctx, args[1:])
	case "show":
		return accountShow(ctx, args[1:])
	case "activate":
		return accountSetActive(ctx, args[1:], true)
	case "deactivate":
		return accountSetActive(ctx, args[1:], false)
	default:
		return fmt.Errorf("unknown account subcommand %q", args[0])
	}
}

func accountCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("account create", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: the server's config)")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		path = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config for the initial balance: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	svc := intake.New(store, book.New(), storePrices{store}, cfg.InitialBalance())
	acct, err := svc.CreateAccount(ctx)
	if err != nil {
		return err
	}

	fmt.Println("✅ Account created")
	fmt.Printf("   ID:      %s\n", acct.AccountID)
	fmt.Printf("   Balance: ₩%s\n", acct.CashBalance)
	return nil
}

func accountShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("account show", flag.ExitOnError)
	id := fs.String("id", "default", "account id")
	fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	accountID, err := resolveAccount(ctx, store, *id)
	if err != nil {
		return err
	}
	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	prices := storePrices{store}
	value, err := ledger.New(store).Valuation(ctx, accountID, prices.LatestPrice)
	if err != nil {
		return err
	}

	status := "active"
	if !acct.IsActive {
		status = "inactive"
	}

	fmt.Printf("📒 Account %s (%s)\n", acct.AccountID, status)
	fmt.Printf("   Cash:      ₩%s\n", acct.CashBalance)
	fmt.Printf("   Valuation: ₩%s\n", value)
	fmt.Printf("   P&L:       ₩%s\n", value.Sub(acct.InitialBalance))

	positions, err := store.PositionsForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	fmt.Println()
	printPositions(positions, prices)
	return nil
}

func accountSetActive(ctx context.Context, args []string, active bool) error {
	fs := flag.NewFlagSet("account activate", flag.ExitOnError)
	id := fs.String("id", "default", "account id")
	fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	accountID, err := resolveAccount(ctx, store, *id)
	if err != nil {
		return err
	}

	svc := intake.New(store, book.New(), storePrices{store}, decimal.Zero)
	if err := svc.SetAccountActive(ctx, accountID, active); err != nil {
		return err
	}

	if active {
		fmt.Printf("✅ Account %s activated\n", accountID)
	} else {
		fmt.Printf("🛑 Account %s deactivated (pending orders still settle)\n", accountID)
	}
	return nil
}

func runOrder(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("order needs a subcommand: submit, cancel, list")
	}
	switch args[0] {
	case "submit":
		return orderSubmit(ctx, args[1:])
	case "cancel":
		return orderCancel(ctx, args[1:])
	case "list":
		return orderList(ctx, args[1:])
	default:
		return fmt.Errorf("unknown order subcommand %q", args[0])
	}
}

func orderSubmit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order submit", flag.ExitOnError)
	account := fs.String("account", "default", "account id")
	instrument := fs.String("instrument", "", "ticker code, e.g. 005930")
	side := fs.String("side", "", "BUY or SELL")
	typ := fs.String("type", "LIMIT", "LIMIT or MARKET")
	price := fs.String("price", "", "limit price in KRW (limit orders only)")
	qty := fs.Int64("qty", 0, "number of shares")
	fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	accountID, err := resolveAccount(ctx, store, *account)
	if err != nil {
		return err
	}

	limitPrice := decimal.Zero
	if *price != "" {
		limitPrice, err = decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", *price, err)
		}
	}

	svc := intake.New(store, book.New(), storePrices{store}, decimal.Zero)
	order, err := svc.SubmitOrder(ctx, intake.OrderRequest{
		AccountID:    accountID,
		InstrumentID: *instrument,
		Side:         domain.Side(strings.ToUpper(*side)),
		Type:         domain.OrderType(strings.ToUpper(*typ)),
		LimitPrice:   limitPrice,
		Quantity:     *qty,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Order accepted: %s\n", order.OrderID)
	fmt.Printf("   %s %s x%d", order.Side, order.InstrumentID, order.Quantity)
	if order.Type == domain.TypeLimit {
		fmt.Printf(" @ ₩%s", order.LimitPrice)
	} else {
		fmt.Print(" @ market")
	}
	fmt.Println()
	fmt.Println("   The server picks it up on its next book refresh.")
	return nil
}

func orderCancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order cancel", flag.ExitOnError)
	id := fs.String("id", "", "order id")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("order cancel requires --id")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	svc := intake.New(store, book.New(), storePrices{store}, decimal.Zero)
	if err := svc.CancelOrder(ctx, *id); err != nil {
		return err
	}

	fmt.Printf("✅ Order %s canceled\n", *id)
	return nil
}

func orderList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order list", flag.ExitOnError)
	account := fs.String("account", "default", "account id")
	limit := fs.Int("limit", 20, "max orders to show, newest first")
	fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	accountID, err := resolveAccount(ctx, store, *account)
	if err != nil {
		return err
	}

	orders, err := store.OrdersForAccount(ctx, accountID, *limit)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("No orders.")
		return nil
	}

	fmt.Printf("%-36s %-10s %-4s %-6s %10s %6s %s\n",
		"ORDER", "INSTRUMENT", "SIDE", "TYPE", "PRICE", "QTY", "STATUS")
	for _, o := range orders {
		price := "MKT"
		if o.Type == domain.TypeLimit {
			price = o.LimitPrice.String()
		}
		status := string(o.Status)
		if o.Status == domain.StatusFilled {
			if exec, ok, err := store.ExecutionForOrder(ctx, o.OrderID); err == nil && ok {
				status = "FILLED@" + exec.Price.String()
			}
		}
		fmt.Printf("%-36s %-10s %-4s %-6s %10s %6d %s\n",
			o.OrderID, o.InstrumentID, o.Side, o.Type, price, o.Quantity, status)
	}
	return nil
}

func runPositions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	account := fs.String("account", "default", "account id")
	fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	accountID, err := resolveAccount(ctx, store, *account)
	if err != nil {
		return err
	}

	positions, err := store.PositionsForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return nil
	}
	printPositions(positions, storePrices{store})
	return nil
}

// printPositions marks instruments with no recorded bar yet with "-":
// their unrealized P&L is unknown, not zero.
func printPositions(positions []domain.Position, prices storePrices) {
	fmt.Printf("   %-10s %8s %12s %12s %14s\n", "INSTRUMENT", "QTY", "AVG COST", "LAST", "UNREALIZED")
	for _, pos := range positions {
		lastStr, pnlStr := "-", "-"
		if last, ok := prices.LatestPrice(pos.InstrumentID); ok {
			lastStr = last.String()
			pnlStr = last.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Quantity)).String()
		}
		fmt.Printf("   %-10s %8d %12s %12s %14s\n",
			pos.InstrumentID, pos.Quantity, pos.AvgCost, lastStr, pnlStr)
	}
}
