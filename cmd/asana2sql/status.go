package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/asana2sql/internal/db"
)

func newStatusCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show the mirror's tables and recent sync runs",
		Long: `Display the database location and size, the row count of every mirrored
table, and the most recent sync runs of the configured project (all projects
when none is configured). Nothing is fetched from Asana.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			if cfg.Database.Driver == db.DriverSQLite {
				if _, err := os.Stat(cfg.Database.DSN); os.IsNotExist(err) {
					a.printer.Warning("Database %s not initialized", cfg.Database.DSN)
					a.printer.Printf("   Run 'asana2sql create' to create it\n")
					return nil
				}
			}

			database, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.InitSchemaContext(ctx); err != nil {
				return err
			}

			a.printer.Heading("📊", "asana2sql Status")
			pairs := [][2]string{{"Database", cfg.Database.DSN}, {"Driver", database.Driver()}}
			if info, err := os.Stat(cfg.Database.DSN); err == nil {
				pairs = append(pairs,
					[2]string{"Size", formatSize(info.Size())},
					[2]string{"Modified", info.ModTime().Format("2006-01-02 15:04:05")})
			}
			if a.cfgUsed != "" {
				pairs = append(pairs, [2]string{"Config", a.cfgUsed})
			}
			a.printer.KV(pairs...)

			tables := cfg.Tables.All()
			if cfg.TableName != "" {
				tables = append([]string{cfg.TableName}, tables...)
			}
			var rows [][]string
			for _, table := range tables {
				exists, err := database.TableExists(ctx, table)
				if err != nil {
					return err
				}
				if !exists {
					rows = append(rows, []string{table, a.printer.Muted("missing")})
					continue
				}
				n, err := database.CountRows(ctx, table)
				if err != nil {
					return err
				}
				rows = append(rows, []string{table, strconv.Itoa(n)})
			}
			a.printer.Printf("\n")
			a.printer.Table([]string{"Table", "Rows"}, rows)

			runs, err := database.ListRuns(ctx, cfg.ProjectID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				a.printer.Printf("\nNo sync runs recorded\n")
				return nil
			}
			rows = rows[:0]
			for _, r := range runs {
				rows = append(rows, []string{
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					strconv.FormatInt(r.ProjectID, 10),
					r.Mode,
					a.renderRunStatus(r),
					runDuration(r),
					strconv.Itoa(r.Fetched),
					strconv.Itoa(r.Upserted),
					strconv.Itoa(r.Deleted),
				})
			}
			a.printer.Printf("\n")
			a.printer.Table([]string{"Started", "Project", "Mode", "Status", "Took", "Fetched", "Upserted", "Deleted"}, rows)
			for _, r := range runs {
				if r.Error != "" {
					a.printer.Failure("%s: %s", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Error)
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func (a *app) renderRunStatus(r db.Run) string {
	switch r.Status {
	case db.RunSucceeded:
		return a.printer.Pass(r.Status)
	case db.RunFailed:
		return a.printer.Fail(r.Status)
	default:
		return a.printer.Warn(r.Status)
	}
}

func runDuration(r db.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
