// Command offerctl issues job offers, records signatures and inspects offer state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/offer-desk/internal/config"
	"github.com/and161185/offer-desk/internal/document"
	"github.com/and161185/offer-desk/internal/limiter"
	"github.com/and161185/offer-desk/internal/logging"
	"github.com/and161185/offer-desk/internal/migrate"
	"github.com/and161185/offer-desk/internal/notify"
	"github.com/and161185/offer-desk/internal/repository/postgres"
	"github.com/and161185/offer-desk/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `offerctl
Usage:
  offerctl [-no-migrate] <cmd> [args]

Commands:
  version
  migrate                                           (apply migrations, print schema version)
  send    (-candidate <uuid> | -email <addr>) -title <job> [-salary s] [-start YYYY-MM-DD] [-expire YYYY-MM-DD|RFC3339]
  send    -offer <uuid>                             (resume a Draft)
  sign    -token <raw> -name <signer> [-ip addr]
  show    -id <uuid>
  list    [-status S] [-candidate <uuid>] [-limit n] [-offset n]
  update  -id <uuid> -file <patch.json|->
  cancel  -id <uuid>
  resend  -id <uuid>
`)
	os.Exit(exitUsage)
}

// app bundles the wired services used by subcommands.
type app struct {
	offers     *service.OfferService
	candidates *postgres.CandidateRepo
}

// main loads configuration, wires dependencies and dispatches the subcommand.
func main() {
	noMigrate := flag.Bool("no-migrate", false, "skip applying migrations before running the command")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "version" {
		fmt.Printf("offerctl %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("starting", append(cfg.LogFields(), zap.String("version", version), zap.String("cmd", cmd))...)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "migrate" || !*noMigrate {
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
	}
	if cmd == "migrate" {
		v, err := migrate.Status(ctx, cfg.DSN)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, map[string]int64{"schema_version": v})
		return
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	candidates := postgres.NewCandidateRepo(db)
	offers := postgres.NewOfferRepo(db)
	tokens := postgres.NewTokenRepo(db)

	lim := limiter.NewPG(db.Pool, limiter.Policy{
		Window:   cfg.Redeem.Window,
		MaxFails: cfg.Redeem.MaxFails,
		BlockFor: cfg.Redeem.BlockFor,
	})

	gen, err := document.New(document.Config{
		TemplateRoot:   cfg.Documents.TemplatesDir,
		OutputRoot:     cfg.Documents.OutputDir,
		MaxConversions: cfg.Documents.MaxConversions,
	}, logger)
	if err != nil {
		logger.Fatal("document generator", zap.Error(err))
	}

	mailer := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromName:  cfg.SMTP.FromName,
		FromEmail: cfg.SMTP.FromEmail,
	})
	dispatcher := notify.NewDispatcher(mailer, cfg.SMTP.Timeout, cfg.SMTP.FallbackEmail, logger)

	// Services
	tokenSvc := service.NewTokenService(offers, tokens, logger)
	offerSvc := service.NewOfferService(candidates, offers, tokenSvc, gen, dispatcher, lim, service.OfferConfig{
		Template:        cfg.Documents.Template,
		BaseURL:         cfg.BaseURL,
		TokenTTL:        cfg.TokenTTL,
		CompanyName:     cfg.Company.Name,
		CompanyLocation: cfg.Company.Location,
		HRContactName:   cfg.Company.HRContact,
		HRContactEmail:  cfg.SMTP.FromEmail,
	}, logger)

	a := &app{offers: offerSvc, candidates: candidates}
	runErr := a.run(ctx, cmd, args)

	// Let queued notifications finish before the pool closes.
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.SMTP.Timeout+5*time.Second)
	defer cancel()
	if err := dispatcher.Wait(waitCtx); err != nil {
		logger.Warn("notifications still in flight at exit", zap.Error(err))
	}

	if runErr != nil {
		fail(runErr)
	}
}
