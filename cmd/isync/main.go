package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/immich-album-sync/internal/api"
	"github.com/chmdznr/immich-album-sync/internal/archive"
	"github.com/chmdznr/immich-album-sync/internal/auth"
	"github.com/chmdznr/immich-album-sync/internal/config"
	"github.com/chmdznr/immich-album-sync/internal/db"
	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/internal/logging"
	"github.com/chmdznr/immich-album-sync/internal/scheduler"
	syncengine "github.com/chmdznr/immich-album-sync/internal/sync"
	"github.com/chmdznr/immich-album-sync/pkg/models"
	"github.com/chmdznr/immich-album-sync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "isync",
		Usage:                "Keeps one album in sync across a group of Immich servers",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "Run the sync service with the HTTP API and the daily scheduler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the service configuration file",
					},
				},
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Run one synchronization pass for the servers in a sync file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the sync file listing the servers",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel transfers per server",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Print the transfer plan without copying anything",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "HTTP timeout per request",
						Value: 60 * time.Second,
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "Log level (debug, info, warn, error)",
						Value: "warn",
					},
				},
				Action: runOnce,
			},
			{
				Name:  "validate",
				Usage: "Probe a server for the permissions a sync run needs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "base-url",
						Usage:    "Server base URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "api-key",
						Usage:    "API key for the server",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "album",
						Usage: "Album id to probe for read and write access",
					},
				},
				Action: validateServer,
			},
			{
				Name:  "user",
				Usage: "Manage service users",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Create a user account",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "db",
								Usage: "Path to the service database",
								Value: "immich-album-sync.db",
							},
							&cli.StringFlag{
								Name:     "username",
								Usage:    "Login name",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "password",
								Usage:    "Login password",
								Required: true,
							},
						},
						Action: addUser,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log, os.Stderr)

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %v", err)
	}
	defer database.Close()

	var sink syncengine.ArchiveSink
	if cfg.Archive.Enabled() {
		uploader, err := archive.New(cfg.Archive)
		if err != nil {
			return err
		}
		sink = uploader
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("archive mirror enabled")
	}

	svc := syncengine.NewService(syncengine.Config{
		Executor: syncengine.ExecutorConfig{
			WorkersPerInstance:   cfg.Sync.WorkersPerInstance,
			MaxAttempts:          cfg.Sync.MaxAttempts,
			RetryInitialInterval: cfg.Sync.RetryInitialInterval,
			RetryMaxInterval:     cfg.Sync.RetryMaxInterval,
		},
		HTTPTimeout: cfg.Sync.HTTPTimeout,
	}, database, nil, sink, log)

	sched := scheduler.New(svc, database, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	tokens := auth.NewManager(cfg.SecretKey, cfg.TokenTTL)
	server := api.NewServer(database, svc, tokens, log, cfg.DefaultSyncTime, cfg.Sync.HTTPTimeout)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("http server started")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runOnce(c *cli.Context) error {
	sf, err := config.LoadSyncFile(c.String("config"))
	if err != nil {
		return err
	}
	instances := sf.Instances()

	log := logging.New(logging.Config{Level: c.String("log-level"), Format: "console"}, os.Stderr)
	svc := syncengine.NewService(syncengine.Config{
		Executor: syncengine.ExecutorConfig{
			WorkersPerInstance: c.Int("workers"),
		},
		HTTPTimeout: c.Duration("timeout"),
	}, nil, nil, nil, log)

	if c.Bool("dry-run") {
		return dryRun(c.Context, svc, instances)
	}

	group := models.SyncGroup{ID: 1, Label: "sync-file", Active: true}
	done := make(chan models.RunProgress, 1)
	go func() {
		done <- svc.Run(context.Background(), group, instances)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var bar *pb.ProgressBar
	for {
		select {
		case final := <-done:
			if bar != nil {
				bar.SetCurrent(int64(final.Done + final.Failed))
				bar.Finish()
			}
			fmt.Print(syncengine.Report(final))
			if final.Status == models.RunFailed {
				return fmt.Errorf("sync failed: %s", final.Error)
			}
			if final.Failed > 0 {
				return fmt.Errorf("%d transfers failed", final.Failed)
			}
			return nil
		case <-ticker.C:
			snap := svc.Progress(group.ID)
			if snap.Status != models.RunRunning || snap.Total == 0 {
				continue
			}
			if bar == nil {
				bar = pb.New64(int64(snap.Total))
				bar.SetTemplate(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
				bar.Start()
			}
			bar.SetCurrent(int64(snap.Done + snap.Failed))
		}
	}
}

func dryRun(ctx context.Context, svc *syncengine.Service, instances []models.Instance) error {
	idx, plan, err := svc.Plan(ctx, instances)
	if err != nil {
		return err
	}

	labels := make(map[int64]string, len(instances))
	for _, inst := range instances {
		labels[inst.ID] = inst.Label
	}

	fmt.Printf("Unique assets across all servers: %d\n", len(idx.Assets))
	fmt.Printf("Planned transfers: %d\n", len(plan.Items))
	for _, item := range plan.Items {
		switch item.Action {
		case models.ActionLink:
			fmt.Printf("  link %s -> %s\n", item.FileName, labels[item.TargetID])
		default:
			fmt.Printf("  copy %s: %s -> %s\n", item.FileName, labels[item.DonorID], labels[item.TargetID])
		}
	}
	if len(plan.Oversized) > 0 {
		fmt.Printf("Skipped as oversized: %d\n", len(plan.Oversized))
		for _, item := range plan.Oversized {
			fmt.Printf("  %s -> %s\n", item.FileName, labels[item.TargetID])
		}
	}
	return nil
}

func validateServer(c *cli.Context) error {
	client := immich.New(c.String("base-url"), c.String("api-key"), 30*time.Second)
	report := client.Validate(c.Context, c.String("album"))
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func addUser(c *cli.Context) error {
	database, err := db.New(c.String("db"))
	if err != nil {
		return fmt.Errorf("open database: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(c.String("password"))
	if err != nil {
		return err
	}
	user, err := database.CreateUser(c.Context, c.String("username"), hash)
	if err != nil {
		return fmt.Errorf("create user: %v", err)
	}
	fmt.Printf("Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}
