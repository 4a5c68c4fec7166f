package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/argo-options/internal/broker"
	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/engine/scanner"
	"github.com/rxtech-lab/argo-options/internal/engine/session"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/report"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
)

// simSpots are the synthetic spot prices served by the simulated market data
// provider. Symbols without an entry trade at 100.
var simSpots = map[string]float64{
	"SPY": 520,
	"QQQ": 440,
	"IWM": 200,
	"DIA": 390,
}

// app holds the wired dependencies shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *logger.Logger
	clock    exchange.Clock
	store    *store.Store
	provider market.Provider
	gateway  broker.Gateway
}

// newApp loads the configuration and wires the provider, gateway, clock, and
// store. The simulated provider and paper gateway are the only transport
// implementations; a live brokerage adapter plugs in behind the same
// interfaces.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	clock, err := exchange.NewClock(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "." && cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	st, err := store.NewStore(cfg.Store.Path, log)
	if err != nil {
		return nil, err
	}

	spots := make(map[string]float64, len(cfg.Strategy.Underlyings))
	for _, symbol := range cfg.Strategy.Underlyings {
		spot, ok := simSpots[symbol]
		if !ok {
			spot = 100
		}

		spots[symbol] = spot
	}

	provider := market.NewSimProvider(spots, market.WithSimClock(clock.Now))

	return &app{
		cfg:      cfg,
		logger:   log,
		clock:    clock,
		store:    st,
		provider: provider,
		gateway:  broker.NewPaperGateway(provider, log),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Printf("failed to close store: %v", err)
	}
}

// runSession starts a session in the given mode and blocks until the duration
// elapses or a stop signal arrives.
func runSession(ctx context.Context, cmd *cli.Command, mode types.SessionMode) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := session.NewSession(a.cfg, a.store, a.provider, a.gateway, a.clock, a.logger, mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting %s session for %s (trading enabled: %v)",
		mode, cmd.Duration("duration"), a.cfg.Safety.TradingEnabled)

	return sess.Run(ctx, cmd.Duration("duration"))
}

// scanAction runs one candidate scan per underlying and prints the ranked
// results without touching the broker.
func scanAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	scan := scanner.NewScanner(a.provider, a.cfg.Strategy, a.clock, a.logger)

	bar := progressbar.Default(int64(len(a.cfg.Strategy.Underlyings)))
	bar.Describe("Scanning underlyings")

	results := make(map[string][]types.Candidate, len(a.cfg.Strategy.Underlyings))

	for _, symbol := range a.cfg.Strategy.Underlyings {
		quote, err := a.provider.GetQuote(ctx, symbol)
		if err != nil {
			return err
		}

		if err := a.store.RecordSnapshot(types.MarketSnapshot{
			ID:            uuid.New().String(),
			Symbol:        symbol,
			UnderlyingPx:  quote.Mid(),
			TakenAtMillis: a.clock.Now().UnixMilli(),
		}); err != nil {
			return err
		}

		candidates, err := scan.TopCandidates(ctx, symbol)
		if err != nil {
			return err
		}

		results[symbol] = candidates

		if err := bar.Add(1); err != nil {
			return err
		}
	}

	for _, symbol := range a.cfg.Strategy.Underlyings {
		candidates := results[symbol]
		if len(candidates) == 0 {
			fmt.Printf("%s: no candidates\n", symbol)

			continue
		}

		fmt.Printf("%s: %d candidates\n", symbol, len(candidates))

		for _, c := range candidates {
			fmt.Printf("  %s %.0f/%.0f dte=%d credit=%.2f max_loss=%.2f method=%s\n",
				c.Expiration.Format("2006-01-02"), c.ShortStrike, c.LongStrike, c.DTE, c.Credit, c.MaxLoss, c.SelectionMethod)
		}
	}

	return nil
}

// doctorAction verifies the configuration, database, market data, and broker
// connectivity without placing orders.
func doctorAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("config:   ok (timezone %s, trading enabled: %v)\n", a.cfg.Timezone, a.cfg.Safety.TradingEnabled)
	fmt.Printf("store:    ok (%s)\n", a.cfg.Store.Path)

	for _, symbol := range a.cfg.Strategy.Underlyings {
		quote, err := a.provider.GetQuote(ctx, symbol)
		if err != nil {
			return err
		}

		fmt.Printf("market:   ok (%s mid %.2f)\n", symbol, quote.Mid())
	}

	positions, err := a.gateway.ListOpenPositions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("broker:   ok (%d open positions)\n", len(positions))

	return nil
}

func reportAction(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	day := cmd.String("day")
	if day == "" {
		day = exchange.DayKey(a.clock.Now())
	}

	daily, err := report.NewReporter(a.store).BuildDaily(day)
	if err != nil {
		return err
	}

	fmt.Print(daily.Render())

	return nil
}

func exportAction(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	paths, err := report.NewExporter(a.store).ExportCSV(cmd.String("out"))
	if err != nil {
		return err
	}

	for _, path := range paths {
		fmt.Printf("wrote %s\n", path)
	}

	return nil
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file",
		Value:   "config.yaml",
	}
}

func durationFlag() *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:    "duration",
		Aliases: []string{"d"},
		Usage:   "How long the session runs before exiting",
		Value:   6*time.Hour + 30*time.Minute,
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "optionsbot",
		Usage: "Put credit spread trading bot",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the full session: scan, enter, and manage positions",
				Flags: []cli.Flag{configFlag(), durationFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSession(ctx, cmd, types.SessionModeRun)
				},
			},
			{
				Name:  "manage",
				Usage: "Manage existing positions only; no new entries",
				Flags: []cli.Flag{configFlag(), durationFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSession(ctx, cmd, types.SessionModeManage)
				},
			},
			{
				Name:   "scan",
				Usage:  "Scan for spread candidates and print them without trading",
				Flags:  []cli.Flag{configFlag()},
				Action: scanAction,
			},
			{
				Name:   "doctor",
				Usage:  "Check configuration, database, market data, and broker connectivity",
				Flags:  []cli.Flag{configFlag()},
				Action: doctorAction,
			},
			{
				Name:  "report",
				Usage: "Print the daily trading report",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "day",
						Usage: "Day to report on in `YYYY-MM-DD` format. Defaults to today.",
					},
				},
				Action: reportAction,
			},
			{
				Name:  "export",
				Usage: "Export trades, orders, and fills to CSV files",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Base path for the CSV files",
						Value:   "export",
					},
				},
				Action: exportAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
