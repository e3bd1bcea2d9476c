// ABOUTME: Entry point for the opsdesk operator console engine
// ABOUTME: Runs the sync engine, checks backend health, lists conversations

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/config"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/workspace"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _           _
   ___  _ __  ___  __| | ___  ___| | __
  / _ \| '_ \/ __|/ _' |/ _ \/ __| |/ /
 | (_) | |_) \__ \ (_| |  __/\__ \   <
  \___/| .__/|___/\__,_|\___||___/_|\_\
       |_|
`

// getConfigPath returns the path to the engine config file.
// Priority: OPSDESK_CONFIG env var > XDG_CONFIG_HOME/opsdesk/opsdesk.yaml > ~/.config/opsdesk/opsdesk.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OPSDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "opsdesk.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "opsdesk", "opsdesk.yaml")
}

// getDataPath returns the path to the opsdesk data directory.
// Priority: XDG_DATA_HOME/opsdesk > ~/.local/share/opsdesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "opsdesk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: opsdesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve          Start the sync engine")
		fmt.Println("  health         Check backend health")
		fmt.Println("  conversations  List conversations at the backend")
		fmt.Println("  restore        Print the persisted workspace snapshot")
		fmt.Println("  token          Show token expiry for the active profile")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "conversations":
		err = runConversations(ctx)
	case "restore":
		err = runRestore(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() (*backend.Client, *config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	profilePath, err := config.DefaultProfilePath()
	if err != nil {
		return nil, nil, err
	}
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading profile: %w", err)
	}
	if profile.Server.URL != "" {
		cfg.Backend.BaseURL = profile.Server.URL
	}

	logger := setupLogger(cfg.Logging)
	return backend.New(cfg.Backend.BaseURL, profile.Server.Token, logger), cfg, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	cachePath := cfg.Cache.Path
	if cachePath == "" {
		cachePath = filepath.Join(getDataPath(), "workspace.db")
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Feed:    %s\n", cfg.Backend.WSURL)
	green.Print("    ▶ ")
	fmt.Printf("Cache:   %s\n", cachePath)
	fmt.Println()

	if expiry, err := client.TokenExpiry(); err == nil {
		yellow := color.New(color.FgYellow)
		if until := time.Until(expiry); until < 24*time.Hour {
			yellow.Printf("    token expires in %s\n\n", until.Round(time.Minute))
		}
	}

	logger.Info("starting opsdesk",
		"config", configPath,
		"backend", cfg.Backend.BaseURL,
		"feed", cfg.Backend.WSURL,
	)

	ws, err := workspace.New(client, workspace.Options{
		FeedURL:           cfg.Backend.WSURL,
		FeedMaxRetries:    cfg.Feed.MaxRetries,
		SaveDebounce:      cfg.Workspace.SaveDebounce,
		PollInterval:      cfg.Poll.Interval,
		IntegrityInterval: cfg.Poll.IntegrityInterval,
		GracePeriod:       cfg.Poll.GracePeriod,
		BannerDismiss:     cfg.Feed.BannerDismiss,
		CachePath:         cachePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	if err := ws.Restore(ctx); err != nil {
		logger.Warn("restoring workspace", "error", err)
	}

	go printNotices(ctx, ws)

	return ws.Run(ctx)
}

// printNotices streams workspace notices to the terminal until ctx ends.
func printNotices(ctx context.Context, ws *workspace.Workspace) {
	notices, _ := ws.Notices(ctx)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for n := range notices {
		switch n.Kind {
		case notify.KindSecurityAlert:
			red.Printf("  ⚠ %s\n", n.Text)
		case notify.KindMutationFailed:
			red.Printf("  ✗ %s failed for conversation %d: %s\n", n.Reason, n.ConversationID, n.Text)
		case notify.KindFeedDegraded:
			yellow.Println("  live feed degraded; polling only")
		case notify.KindFeedRestored:
			fmt.Println("  live feed restored")
		case notify.KindNewMessage:
			fmt.Printf("  new message in conversation %d\n", n.ConversationID)
		}
	}
}

func runHealth(ctx context.Context) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	if err := client.Health(ctx); err != nil {
		color.Red("UNREACHABLE (%v)\n", err)
		os.Exit(1)
	}

	fmt.Println("healthy")
	if expiry, err := client.TokenExpiry(); err == nil {
		if time.Now().After(expiry) {
			color.Red("token expired %s ago\n", time.Since(expiry).Round(time.Minute))
		} else {
			fmt.Printf("token valid for %s\n", time.Until(expiry).Round(time.Minute))
		}
	}
	return nil
}

func runRestore(ctx context.Context) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	snap, err := client.LoadWorkspace(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			fmt.Println("no workspace snapshot saved")
			return nil
		}
		return fmt.Errorf("loading workspace snapshot: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Printf("mode:   %s\n", snap.LayoutMode)
	fmt.Printf("active: %d\n", snap.ActiveConversationID)
	fmt.Print("open:   ")
	for i, id := range snap.OpenConversations {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Printf("%d", id)
	}
	fmt.Println()
	return nil
}

func runConversations(ctx context.Context) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	summaries, err := client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	for _, s := range summaries {
		cyan.Printf("%6d  ", s.ID)
		fmt.Printf("%-24s %-16s", s.ClientName, s.ClientPhone)
		if s.HasPending {
			yellow.Print("  [pending review]")
		}
		if !s.AutoReply {
			fmt.Print("  (auto-reply off)")
		}
		fmt.Println()
	}
	fmt.Printf("\n%d conversations\n", len(summaries))
	return nil
}

func runToken() error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	expiry, err := client.TokenExpiry()
	if err != nil {
		return fmt.Errorf("inspecting token: %w", err)
	}

	green := color.New(color.FgGreen)
	if time.Now().After(expiry) {
		color.Red("expired %s ago\n", time.Since(expiry).Round(time.Minute))
		os.Exit(1)
	}
	green.Printf("valid until %s (%s from now)\n",
		expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Minute))
	return nil
}
