package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/asana2sql/internal/project"
)

func newCreateCmd(a *app) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:     "create",
		GroupID: "setup",
		Short:   "Create the project table and the auxiliary tables",
		Long: `Create the primary table for the project and the seven auxiliary tables
(projects, project memberships, users, followers, custom fields, custom field
enum values, custom field values). Existing tables are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer p.Close()

			if printOnly {
				stmt, err := p.project.CreateTableSQL(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, stmt)
				return nil
			}

			table, err := p.ensureTables(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Success("Created table %s", table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the primary table DDL instead of running it")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export",
		GroupID: "sync",
		Short:   "Upsert every task of the project; never delete",
		Long: `Fetch every task of the project and upsert it into the primary table,
reconciling the relation tables along the way. Rows of tasks that no longer
exist remotely are kept. --modified-since limits the fetch to recently
modified tasks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer p.Close()

			if _, err := p.ensureTables(cmd.Context()); err != nil {
				return err
			}
			a.printer.Printf("%s Exporting project %d...\n", a.printer.Accent("🔄"), a.cfg.ProjectID)
			result, err := p.project.Export(cmd.Context())
			if err != nil {
				return err
			}
			a.printResult(result, p)
			return nil
		},
	}
	cmd.Flags().String("modified-since", "", `only tasks modified since this time (RFC 3339, a date, or "2 days ago")`)
	_ = a.v.BindPFlag("modified_since", cmd.Flags().Lookup("modified-since"))
	return cmd
}

func newSynchronizeCmd(a *app) *cobra.Command {
	var reportUntouched, pruneUntouched bool
	cmd := &cobra.Command{
		Use:     "synchronize",
		Aliases: []string{"sync"},
		GroupID: "sync",
		Short:   "Converge the tables on the remote project",
		Long: `Fetch every task of the project, upsert it, then delete the stored rows of
tasks that no longer exist remotely, together with their memberships,
followers and custom field values.

Lookup rows (users, projects, custom fields) are shared and never deleted by
default. --report-untouched lists the ones no task referenced in this pass;
--prune-untouched deletes them. Only prune when one project is mirrored per
database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.openPipeline(ctx, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			if _, err := p.ensureTables(ctx); err != nil {
				return err
			}
			a.printer.Printf("%s Synchronizing project %d...\n", a.printer.Accent("🔄"), a.cfg.ProjectID)
			result, err := p.project.Synchronize(ctx)
			if err != nil {
				return err
			}
			a.printResult(result, p)

			switch {
			case pruneUntouched:
				removed, err := p.workspace.PruneUntouched(ctx)
				if err != nil {
					return err
				}
				if len(removed) == 0 {
					a.printer.Success("No untouched lookup rows")
				}
				for _, table := range sortedKeys(removed) {
					a.printer.Success("Pruned %d rows from %s", removed[table], table)
				}
			case reportUntouched:
				untouched, err := p.workspace.Untouched(ctx)
				if err != nil {
					return err
				}
				if len(untouched) == 0 {
					a.printer.Success("No untouched lookup rows")
					return nil
				}
				rows := make([][]string, 0, len(untouched))
				for _, table := range sortedKeys(untouched) {
					for _, k := range untouched[table] {
						rows = append(rows, []string{table, fmt.Sprint(k)})
					}
				}
				a.printer.Warning("Lookup rows no task referenced in this pass:")
				a.printer.Table([]string{"Table", "Id"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reportUntouched, "report-untouched", false, "list lookup rows no task referenced")
	cmd.Flags().BoolVar(&pruneUntouched, "prune-untouched", false, "delete lookup rows no task referenced")
	cmd.MarkFlagsMutuallyExclusive("report-untouched", "prune-untouched")
	return cmd
}

func (a *app) printResult(r project.Result, p *pipeline) {
	a.printer.Success("%s complete in %v", capitalize(r.Mode), r.Duration.Round(time.Millisecond))
	pairs := [][2]string{
		{"Table", r.Table},
		{"Fetched", strconv.Itoa(r.Fetched)},
		{"Upserted", strconv.Itoa(r.Upserted)},
	}
	if r.Mode == project.ModeSynchronize {
		pairs = append(pairs, [2]string{"Deleted", strconv.Itoa(r.Deleted)})
	}
	pairs = append(pairs,
		[2]string{"Reads", strconv.FormatInt(p.store.Reads(), 10)},
		[2]string{"Writes", strconv.FormatInt(p.store.Writes(), 10)},
	)
	if a.cfg.Database.Dry {
		pairs = append(pairs, [2]string{"Executed", strconv.FormatInt(p.store.Executed(), 10) + " (dry run)"})
	}
	a.printer.KV(pairs...)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
