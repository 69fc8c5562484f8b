package main

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/config"
	"github.com/Mschirtzinger/asana2sql/internal/fields"
	"github.com/Mschirtzinger/asana2sql/internal/snapshot"
	"github.com/Mschirtzinger/asana2sql/internal/workspace"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		GroupID: "setup",
		Short:   "Manage snapshot directories",
		Long: `A snapshot directory holds project.json, tasks/<id>.json and
custom_fields/<id>.json. With source.kind = snapshot it replaces the Asana API
as the task source, and the daemon re-syncs whenever it changes.`,
	}
	cmd.AddCommand(newSnapshotPullCmd(a), newSnapshotImportCmd(a), newSnapshotCleanCmd(a))
	return cmd
}

func (a *app) snapshotDir() (string, error) {
	if a.cfg.Source.Dir == "" {
		return "", config.Errorf("source.dir", "required (set --snapshot-dir)")
	}
	return a.cfg.Source.Dir, nil
}

// pullFields is the projection a pulled snapshot carries: everything the
// default field list reads.
func pullFields() []string {
	// Only RequiredFields is called, so no workspace is needed behind the fields.
	var ws *workspace.Workspace
	set := make(map[string]bool)
	for _, f := range fields.Defaults(ws) {
		for _, r := range f.RequiredFields() {
			set[r] = true
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func newSnapshotPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Write a snapshot of the project from the Asana API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.ProjectID <= 0 {
				return config.Errorf("project_id", "required")
			}
			dir, err := a.snapshotDir()
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			a.printer.Printf("%s Pulling project %d into %s...\n", a.printer.Accent("🔄"), a.cfg.ProjectID, dir)
			result, err := snapshot.Pull(cmd.Context(), client, a.cfg.ProjectID, pullFields(), snapshot.NewWriter(dir))
			if err != nil {
				return err
			}
			a.printer.Success("Snapshot written")
			a.printer.KV(
				[2]string{"Tasks", strconv.Itoa(result.Tasks)},
				[2]string{"Custom fields", strconv.Itoa(result.CustomFields)},
				[2]string{"Removed", strconv.Itoa(result.Removed)},
			)
			return nil
		},
	}
}

func newSnapshotImportCmd(a *app) *cobra.Command {
	var (
		from        string
		projectName string
		dryRun      bool
		backup      bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Convert a JSON-lines task export into a snapshot",
		Long: `Read one task object per line from --jsonl and write each as
tasks/<id>.json. When the snapshot has no project.json yet and a project id
is configured, one is written with --project-name. Bad lines are reported and
skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.snapshotDir()
			if err != nil {
				return err
			}
			opts := snapshot.ImportOptions{From: from, To: dir, DryRun: dryRun, Backup: backup}
			if a.cfg.ProjectID > 0 {
				opts.Project = asana.Entity{"id": a.cfg.ProjectID, "name": projectName}
			}

			result, err := snapshot.ImportJSONL(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if dryRun {
				a.printer.Warning("Dry run: nothing written")
			}
			a.printer.Success("Converted %d tasks", result.TasksConverted)
			pairs := [][2]string{{"Files written", strconv.Itoa(result.FilesWritten)}}
			if result.BackupCreated != "" {
				pairs = append(pairs, [2]string{"Backup", result.BackupCreated})
			}
			a.printer.KV(pairs...)
			for _, e := range result.Errors {
				a.printer.Failure("%s", e)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "jsonl", "", "JSON-lines file to import")
	f.StringVar(&projectName, "project-name", "", "name written to a new project.json")
	f.BoolVar(&dryRun, "dry-run", false, "parse only")
	f.BoolVar(&backup, "backup", false, "copy the input file aside first")
	_ = cmd.MarkFlagRequired("jsonl")
	return cmd
}

func newSnapshotCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the snapshot's files",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.snapshotDir()
			if err != nil {
				return err
			}
			if err := snapshot.Clean(dir); err != nil {
				return err
			}
			a.printer.Success("Removed snapshot files from %s", dir)
			return nil
		},
	}
}
