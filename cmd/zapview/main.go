// Command zapview watches the zap feed for a profile or an event from
// the terminal. Give it an npub, note, nevent, nprofile or naddr and a
// relay set; it backfills the recent zaps, then prints new ones as they
// arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zapview"
)

var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zapview:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to TOML config")
		identifier = flag.String("identifier", "", "npub/nprofile/note/nevent/naddr to watch")
		relaysFlag = flag.String("relays", "", "comma-separated relay URLs")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *identifier != "" {
		cfg.Identifier = *identifier
	}
	if *relaysFlag != "" {
		cfg.Relays = splitRelays(*relaysFlag)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.Identifier == "" {
		return fmt.Errorf("no identifier given (use -identifier or the config file)")
	}
	if len(cfg.Relays) == 0 {
		cfg.Relays = defaultRelays
	}

	setupLogging(cfg.LogLevel)

	mgr := zapview.New(zapview.Options{
		VerifySignatures:  cfg.VerifySignatures,
		StatsBaseURL:      cfg.StatsBaseURL,
		ReferenceTimeout:  cfg.Timeouts.Reference.Duration,
		PaginationTimeout: cfg.Timeouts.Pagination.Duration,
	})
	defer mgr.Close()

	const viewID = "main"
	err = mgr.InitializeView(context.Background(), viewID, zapview.ViewConfig{
		Identifier:          cfg.Identifier,
		RelayURLs:           cfg.Relays,
		InitialLoadCount:    cfg.Feed.InitialLoad,
		AdditionalLoadCount: cfg.Feed.AdditionalLoad,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("watching zaps for %s on %d relays (ctrl-c to quit)\n", cfg.Identifier, len(cfg.Relays))

	seen := make(map[string]bool)
	backfillDone := false
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mgr.CloseView(viewID)
			return nil
		case <-ticker.C:
			events, err := mgr.GetCachedEvents(viewID)
			if err != nil {
				return err
			}
			for i := len(events) - 1; i >= 0; i-- {
				fe := events[i]
				if seen[fe.ID] {
					continue
				}
				seen[fe.ID] = true
				printZap(mgr, fe)
			}

			status, err := mgr.Status(viewID)
			if err != nil {
				return err
			}
			if !backfillDone && status.State >= zapview.StateBackfillComplete {
				backfillDone = true
				printSummary(mgr, viewID, status)
			}
		}
	}
}

func printZap(mgr *zapview.Manager, fe *zapview.FeedEvent) {
	ts := time.Unix(fe.CreatedAt, 0).Format("15:04:05")

	sender := shortKey(fe.PubKey)
	amount := "unknown amount"
	comment := ""
	if fe.Zap != nil {
		sender = shortKey(fe.Zap.SenderPubKey)
		if p, ok := mgr.GetProfile(fe.Zap.SenderPubKey); ok {
			sender = p.Display()
		}
		if fe.Zap.AmountKnown {
			amount = formatMsats(fe.Zap.AmountMsats)
		}
		comment = fe.Zap.Comment
	}

	line := fmt.Sprintf("%s  %s zapped %s", ts, sender, amount)
	if fe.RealTime {
		line += "  [live]"
	}
	fmt.Println(line)
	if comment != "" {
		fmt.Printf("          %q\n", comment)
	}
	if fe.Reference != nil {
		fmt.Printf("          on: %s\n", truncate(fe.Reference.Content, 80))
	}
}

func printSummary(mgr *zapview.Manager, viewID string, status zapview.ViewStatus) {
	if status.NoResults {
		fmt.Println("-- no zaps found, waiting for new ones --")
		return
	}
	stats, err := mgr.GetAggregateStats(viewID)
	if err != nil {
		return
	}
	source := "from loaded events"
	if status.BaselineAvailable {
		source = "all time"
	}
	fmt.Printf("-- %d zaps, %s total, biggest %s (%s) --\n",
		stats.Count, formatMsats(stats.TotalMsats), formatMsats(stats.MaxMsats), source)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func splitRelays(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func shortKey(pk string) string {
	if len(pk) > 12 {
		return pk[:12] + "…"
	}
	return pk
}

func formatMsats(msats int64) string {
	sats := msats / 1000
	if sats >= 1000000 {
		return fmt.Sprintf("%.2fM sats", float64(sats)/1e6)
	}
	if sats >= 1000 {
		return fmt.Sprintf("%.1fk sats", float64(sats)/1e3)
	}
	return fmt.Sprintf("%d sats", sats)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
