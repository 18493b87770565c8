// fieldbot bridges Telegram field reports into Google Sheets and Drive.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldbot-dev/fieldbot/internal/config"
	"github.com/fieldbot-dev/fieldbot/internal/directory"
	"github.com/fieldbot-dev/fieldbot/internal/flow"
	"github.com/fieldbot-dev/fieldbot/internal/sheets"
	"github.com/fieldbot-dev/fieldbot/internal/transport"
	"github.com/fieldbot-dev/fieldbot/pkg/observability"
	"github.com/fieldbot-dev/fieldbot/pkg/session"
)

// Version is set via ldflags.
var Version = "dev"

var (
	configFile string
	httpPort   int
	dryRun     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fieldbot",
		Short:   "Telegram bot that stores field reports in Google Sheets",
		Version: Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context())
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "configuration file")
	rootCmd.Flags().IntVar(&httpPort, "http-port", 0, "health/metrics port (overrides config)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log records instead of calling Google")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("fieldbot: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if httpPort != 0 {
		cfg.HTTPPort = httpPort
	}

	log.Printf("starting fieldbot v%s (http port %d, dry-run %v)", Version, cfg.HTTPPort, dryRun)

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	log.Printf("authorized as @%s", bot.Self.UserName)

	var sink flow.Sink
	if dryRun {
		sink = sheets.NewLogSink()
	} else {
		gs, err := sheets.New(ctx, sheets.Config{
			ServiceAccountFile: cfg.Google.ServiceAccountFile,
			RootFolderID:       cfg.Google.RootFolderID,
			CacheFlushSchedule: cfg.Google.CacheFlushSchedule,
		})
		if err != nil {
			return fmt.Errorf("create google sink: %w", err)
		}
		defer gs.Close()
		sink = gs
	}

	dir := directory.New(bot)
	sender := transport.NewSender(bot, cfg.Telegram.SendRate, cfg.Telegram.SendBurst)
	files := transport.NewDownloader(bot, bot.Token, cfg.Telegram.MaxDownloadMB<<20)

	machine := flow.NewMachine(session.NewStore(), sink, sender, dir, flow.Timeouts{
		FollowUp:    cfg.Timeouts.FollowUpWindow(),
		Attachments: cfg.Timeouts.AttachmentsWindow(),
	})
	router := flow.NewRouter(machine, files, dir, sender)
	poller := transport.NewPoller(bot, router, cfg.Telegram.PollTimeoutSeconds)

	observability.InitMetrics()
	checker := observability.InitHealthChecker()
	checker.RegisterCheck(observability.PingCheck())
	checker.RegisterCheck(observability.TelegramCheck(func(context.Context) error {
		_, err := bot.GetMe()
		return err
	}))
	obsServer := observability.NewServer(cfg.HTTPPort)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(ctx)
	})
	g.Go(func() error {
		if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return obsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Println("fieldbot stopped")
	return nil
}
