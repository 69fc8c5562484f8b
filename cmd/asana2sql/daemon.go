package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/asana2sql/internal/config"
	"github.com/Mschirtzinger/asana2sql/internal/daemon"
	"github.com/Mschirtzinger/asana2sql/internal/dashboard"
	"github.com/Mschirtzinger/asana2sql/internal/project"
)

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		GroupID: "sync",
		Short:   "Synchronize repeatedly (foreground)",
		Long: `Run synchronize passes until interrupted.

A pass runs at start, then every --interval. With a snapshot source the
snapshot directory is watched too, and a pass runs once it has been quiet for
--debounce. With --dashboard-port set, pass events are broadcast to WebSocket
clients at ws://host:port/ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			logger := a.logger.Logger

			var (
				server  *dashboard.Server
				handler *dashboard.Handler
				obs     project.Observer
			)
			if cfg.Daemon.DashboardPort > 0 {
				server = dashboard.NewServer(dashboard.Config{
					Addr:   fmt.Sprintf(":%d", cfg.Daemon.DashboardPort),
					Logger: logger,
				})
				handler = dashboard.NewHandler(server, logger)
				obs = handler
			}

			p, err := a.openPipeline(ctx, obs)
			if err != nil {
				return err
			}
			defer p.Close()
			table, err := p.ensureTables(ctx)
			if err != nil {
				return err
			}

			dcfg := daemon.Config{
				Interval: cfg.Daemon.Interval,
				Debounce: cfg.Daemon.Debounce,
				Logger:   logger,
				OnPass: func(r project.Result, err error) {
					if err != nil {
						logger.Error("sync pass failed", "error", err)
					}
					if handler != nil {
						handler.OnPass(r, err)
					}
				},
			}
			if cfg.Source.Kind == config.SourceSnapshot {
				dcfg.SnapshotDir = cfg.Source.Dir
			}
			d, err := daemon.New(p.project, dcfg)
			if err != nil {
				return err
			}

			if server != nil {
				if err := server.Start(); err != nil {
					return err
				}
				defer server.Stop()
			}

			a.printer.Printf("%s Starting asana2sql daemon...\n", a.printer.Accent("🚀"))
			pairs := [][2]string{
				{"Project", fmt.Sprint(cfg.ProjectID)},
				{"Table", table},
				{"Database", cfg.Database.DSN},
				{"Interval", cfg.Daemon.Interval.String()},
			}
			if dcfg.SnapshotDir != "" {
				pairs = append(pairs, [2]string{"Watching", dcfg.SnapshotDir})
			}
			if server != nil {
				pairs = append(pairs, [2]string{"Dashboard", "ws://" + server.Addr() + "/ws"})
			}
			a.printer.KV(pairs...)
			a.printer.Printf("\nPress Ctrl+C to stop\n\n")

			if err := d.Start(ctx); err != nil {
				return err
			}
			stats := d.Stats()
			a.printer.Success("Stopped after %d passes (%d failed)", stats.Passes, stats.Failures)
			return nil
		},
	}
	f := cmd.Flags()
	f.Duration("interval", 0, "time between passes (0 = only on snapshot changes)")
	f.Duration("debounce", 0, "quiet time before a snapshot change triggers a pass")
	f.Int("dashboard-port", 0, "serve the WebSocket dashboard on this port (0 = off)")
	_ = a.v.BindPFlag("daemon.interval", f.Lookup("interval"))
	_ = a.v.BindPFlag("daemon.debounce", f.Lookup("debounce"))
	_ = a.v.BindPFlag("daemon.dashboard_port", f.Lookup("dashboard-port"))
	return cmd
}
