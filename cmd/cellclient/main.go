// Command cellclient connects to a game server, joins with the configured
// nickname (or spectates) and logs the session until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cellwire/client/internal/capture"
	"cellwire/client/internal/config"
	"cellwire/client/internal/discovery"
	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
	"cellwire/client/internal/status"
)

const captureSweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cellclient: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Resolve the server directly or through discovery.
	host, token := cfg.Server.Host, cfg.Server.Token
	if host == "" {
		finder := discovery.New(cfg.Server.DiscoveryURL,
			discovery.WithOrigin(cfg.Session.Origin),
			discovery.WithLogger(logger),
		)
		found, err := finder.Find(ctx, cfg.Server.Region, cfg.Server.Mode)
		if err != nil {
			return err
		}
		host, token = found.Host, found.Token
	}

	observers := session.Observers{session.NewLogObserver(logger)}
	opts := []session.Option{session.WithLogger(logger)}

	//2.- Optional capture bundle plus its retention sweep.
	if cfg.Capture.Enabled() {
		writer, manifest, err := capture.NewWriter(cfg.Capture.Dir, cfg.Server.Region, nil)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("close capture", logging.Error(err))
			}
		}()
		logger.Info("capturing frames", logging.String("bundle", writer.Directory()), logging.Int("version", manifest.Version))
		opts = append(opts, session.WithFrameTap(writer))

		cleaner := capture.NewCleaner(cfg.Capture.Dir, capture.RetentionPolicy{
			MaxBundles: cfg.Capture.MaxBundles,
			MaxAge:     cfg.Capture.MaxAge,
		}, logger)
		go cleaner.Run(ctx, captureSweepInterval)
	}

	//3.- Optional health endpoint tracking the session state.
	if cfg.StatusAddr != "" {
		health := status.New(logger)
		defer health.Stop()
		opts = append(opts, session.WithStateListener(health.Observe))
		go func() {
			if err := health.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				logger.Error("status server stopped", logging.Error(err))
			}
		}()
	}

	var respawn *respawner
	if !cfg.Session.Spectate {
		respawn = newRespawner(cfg.Session.Nickname, logger)
		observers = append(observers, respawn)
	}
	opts = append(opts, session.WithObserver(observers))

	s := session.New(cfg.Session, opts...)
	if err := s.Connect(ctx, host, token); err != nil {
		return err
	}

	//4.- Join the game or watch it.
	if respawn != nil {
		respawn.bind(s.SendRespawn)
		err = s.SendRespawn(cfg.Session.Nickname)
	} else {
		err = s.SendSpectate()
	}
	if err != nil {
		s.Stop()
		return fmt.Errorf("join: %w", err)
	}

	err = s.Run(ctx)
	stats := s.Stats()
	logger.Info("session ended",
		logging.Int64("frames_received", int64(stats.FramesReceived)),
		logging.Int64("frames_dropped", int64(stats.FramesDropped)),
	)
	if errors.Is(err, session.ErrEmptyMessage) {
		return fmt.Errorf("server closed the game: %w", err)
	}
	return err
}
