package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cpvl/dues-server/internal/client"
	"github.com/cpvl/dues-server/internal/config"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/utils"
	"go.uber.org/zap"
)

type cliConfig struct {
	server   string
	email    string
	password string
	command  string
	pilotID  int64
	year     string
	month    int
	first    int
	plan     string
	status   string
	yes      bool
}

var planChoices = []ledger.PlanType{ledger.PlanMonthly, ledger.PlanQuarterly, ledger.PlanSemester, ledger.PlanAnnual}

func planHelp() string {
	names := make([]string, len(planChoices))
	for i, p := range planChoices {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), `usage: duesctl [global flags] <command> [flags]

commands:
  view           print a pilot's ledger, batches and summary
  notice         declare a PIX payment for the missing months
  confirm        confirm one month (admin)
  confirm-batch  confirm every month of a batch (admin)
  purge          delete a pilot's unconfirmed entries (admin)

global flags:
`)
	fs.PrintDefaults()
}

func parseFlags(args []string) (cliConfig, error) {
	var cfg cliConfig
	fs := flag.NewFlagSet("duesctl", flag.ContinueOnError)
	fs.Usage = func() { usage(fs) }
	fs.StringVar(&cfg.server, "server", getenvDefault("DUES_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVar(&cfg.email, "email", os.Getenv("DUES_EMAIL"), "login email")
	fs.StringVar(&cfg.password, "password", os.Getenv("DUES_PASSWORD"), "login password")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.email == "" || cfg.password == "" {
		return cfg, errors.New("missing --email/--password or DUES_EMAIL/DUES_PASSWORD")
	}
	if fs.NArg() == 0 {
		return cfg, errors.New("missing command")
	}
	cfg.command = fs.Arg(0)

	sub := flag.NewFlagSet(cfg.command, flag.ContinueOnError)
	sub.Int64Var(&cfg.pilotID, "pilot", 0, "pilot id (defaults to the logged in pilot)")
	switch cfg.command {
	case "view":
		sub.StringVar(&cfg.year, "year", "", `year or "all" (defaults to the current year)`)
	case "notice":
		sub.StringVar(&cfg.plan, "plan", string(ledger.PlanMonthly), planHelp())
		sub.StringVar(&cfg.year, "year", "", "year the missing months belong to")
		sub.BoolVar(&cfg.yes, "yes", false, "submit without only quoting")
	case "confirm":
		sub.StringVar(&cfg.year, "year", "", "reference year")
		sub.IntVar(&cfg.month, "month", 0, "reference month")
	case "confirm-batch":
		sub.StringVar(&cfg.year, "year", "", "reference year")
		sub.IntVar(&cfg.first, "first", 0, "first month of the batch")
	case "purge":
		sub.StringVar(&cfg.status, "status", ledger.StatusToConfirm.String(), "status to purge")
	default:
		return cfg, fmt.Errorf("unknown command %q", cfg.command)
	}
	if err := sub.Parse(fs.Args()[1:]); err != nil {
		return cfg, err
	}

	switch cfg.command {
	case "confirm":
		if cfg.month < 1 || cfg.month > 12 {
			return cfg, errors.New("missing --month (1-12)")
		}
	case "confirm-batch":
		if cfg.first < 1 || cfg.first > 12 {
			return cfg, errors.New("missing --first (1-12)")
		}
	}
	if cfg.command != "view" && cfg.command != "notice" && cfg.pilotID <= 0 {
		return cfg, errors.New("missing --pilot")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	appCfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, err := utils.NewLogger(appCfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appCfg, logger, os.Stdout); err != nil {
		logger.Error("Command failed", zap.String("command", cfg.command), zap.Error(err))
		os.Exit(1)
	}
}

type app struct {
	cfg    cliConfig
	client *client.Client
	cache  *client.LedgerCache
	loader *client.Loader
	view   client.ViewConfig
	now    time.Time
	out    io.Writer
	logger *utils.Logger
}

func run(ctx context.Context, cfg cliConfig, appCfg *config.Config, logger *utils.Logger, out io.Writer) error {
	pricing, err := appCfg.Pricing()
	if err != nil {
		return err
	}
	loc, err := appCfg.Location()
	if err != nil {
		return err
	}
	now := func() time.Time { return time.Now().In(loc) }

	c := client.New(cfg.server, client.NewSession(), client.WithLogger(logger.Named("client")))
	auth, err := c.Login(ctx, cfg.email, cfg.password)
	if err != nil {
		return fmt.Errorf("error logging in: %w", err)
	}
	if cfg.pilotID <= 0 {
		cfg.pilotID = auth.PilotID
	}
	logger.Debug("Logged in", zap.Int64("pilotId", auth.PilotID), zap.String("role", auth.Role))

	view := client.ViewConfig{Pricing: pricing, StartYear: appCfg.Dues.StartYear, Now: now}
	cache := client.NewLedgerCache()
	a := &app{
		cfg:    cfg,
		client: c,
		cache:  cache,
		loader: client.NewLoader(c, cache, client.NewChannels(), view),
		view:   view,
		now:    now(),
		out:    out,
		logger: logger,
	}

	switch cfg.command {
	case "view":
		return a.runView(ctx)
	case "notice":
		return a.runNotice(ctx)
	case "confirm":
		return a.runConfirm(ctx)
	case "confirm-batch":
		return a.runConfirmBatch(ctx)
	case "purge":
		return a.runPurge(ctx)
	}
	return fmt.Errorf("unknown command %q", cfg.command)
}

func (a *app) filter() (ledger.YearFilter, error) {
	return ledger.ParseYearFilter(a.cfg.year, a.now.Year())
}

func (a *app) runView(ctx context.Context) error {
	filter, err := a.filter()
	if err != nil {
		return err
	}
	dash, err := a.loader.Load(ctx, a.cfg.pilotID, filter)
	if err != nil {
		return err
	}
	printView(a.out, dash.Pilot.Name, dash.View)
	return nil
}

func (a *app) runNotice(ctx context.Context) error {
	plan, err := ledger.ParsePlanType(a.cfg.plan)
	if err != nil {
		return err
	}
	filter, err := a.filter()
	if err != nil {
		return err
	}
	if filter.All {
		return errors.New("notice needs a single --year")
	}
	if err := a.loader.RefreshLedger(ctx, a.cfg.pilotID, filter); err != nil {
		return err
	}
	missing := a.loader.View(a.cfg.pilotID, filter).Summary.TotalMissingMonths

	flow := client.NewNoticeFlow(a.client, a.cache, a.view.Pricing)
	flow.Now = a.view.Now
	req := client.NoticeRequest{PilotID: a.cfg.pilotID, Plan: plan, TotalMissing: missing, Year: filter.Year}

	quote, err := flow.Quote(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "plan %s: %s - %s = %s\n", quote.Plan, quote.BaseAmount.StringFixed(2), quote.Discount.StringFixed(2), quote.FinalAmount.StringFixed(2))
	fmt.Fprintf(a.out, "months: %s\n", joinKeys(quote.Months))
	fmt.Fprintf(a.out, "PIX: %s\n", quote.Payload)
	if !a.cfg.yes {
		return nil
	}

	flow.SuccessDelay = 0
	created, err := flow.Submit(ctx, req)
	var partial *client.PartialNoticeError
	if errors.As(err, &partial) {
		a.logger.Warn("Notice only partially recorded",
			zap.String("submitted", joinKeys(partial.Submitted)),
			zap.String("failed", partial.Failed.String()))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "recorded %d month(s) awaiting confirmation\n", len(created))
	return nil
}

func (a *app) confirmYear() (int, error) {
	filter, err := a.filter()
	if err != nil {
		return 0, err
	}
	if filter.All {
		return 0, errors.New("--year must be a single year")
	}
	return filter.Year, nil
}

func (a *app) runConfirm(ctx context.Context) error {
	year, err := a.confirmYear()
	if err != nil {
		return err
	}
	entry, err := client.NewConfirmer(a.client, a.cache).Confirm(ctx, a.cfg.pilotID, ledger.Key{Year: year, Month: a.cfg.month})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", entry.Key(), entry.Status)
	return nil
}

func (a *app) runConfirmBatch(ctx context.Context) error {
	year, err := a.confirmYear()
	if err != nil {
		return err
	}
	filter := ledger.ForYear(year)
	if err := a.loader.RefreshLedger(ctx, a.cfg.pilotID, filter); err != nil {
		return err
	}
	first := ledger.Key{Year: year, Month: a.cfg.first}
	keys, ok := a.loader.View(a.cfg.pilotID, filter).FindBatch(first)
	if !ok {
		return fmt.Errorf("no batch starts at %s", first)
	}

	confirmed, err := client.NewConfirmer(a.client, a.cache).ConfirmBatch(ctx, a.cfg.pilotID, keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "confirmed %s\n", joinKeys(keys))
	a.logger.Debug("Batch confirmed", zap.Int("entries", len(confirmed)))
	return nil
}

func (a *app) runPurge(ctx context.Context) error {
	status, err := ledger.ParseStatus(a.cfg.status)
	if err != nil {
		return err
	}
	n, err := a.client.PurgePayments(ctx, a.cfg.pilotID, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d entr(ies)\n", n)
	return nil
}

func printView(out io.Writer, name string, v ledger.View) {
	fmt.Fprintf(out, "%s (pilot %d), %s\n\n", name, v.PilotID, v.Filter)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MONTH\tPLAN\tAMOUNT\tSTATUS\tBATCH")
	for _, r := range v.Rows {
		batch := ""
		if r.Batch != nil {
			batch = fmt.Sprintf("#%d", r.Batch.Index+1)
			if r.Batch.First {
				batch += fmt.Sprintf(" (confirm %d)", r.Batch.Size)
			}
		}
		plan := string(r.PlanType)
		if r.Placeholder {
			plan = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Key(), plan, r.Amount.Decimal.StringFixed(2), r.Status, batch)
	}
	w.Flush()

	fmt.Fprintln(out)
	if v.Summary.YearScoped {
		fmt.Fprintf(out, "missing months: %d\n", v.Summary.TotalMissingMonths)
	}
	fmt.Fprintf(out, "collected: %s\n", v.Summary.TotalAmountCollected.StringFixed(2))
	for _, q := range v.Plans {
		fmt.Fprintf(out, "plan %s: %s\n", q.PlanType, q.FinalAmount.StringFixed(2))
	}
}

func joinKeys(keys []ledger.Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
