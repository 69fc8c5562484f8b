package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/Mschirtzinger/asana2sql/internal/db"
)

// Version is set at build time with -ldflags "-X main.Version=v1.2.3".
var Version = "v0.1.0-dev"

// version returns the canonical semantic version of this binary, preferring
// the module version recorded by go install.
func version() string {
	v := Version
	if info, ok := debug.ReadBuildInfo(); ok && semver.IsValid(info.Main.Version) {
		v = info.Main.Version
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if c := semver.Canonical(v); c != "" {
		return c + semver.Build(v)
	}
	return v
}

// checkVersion warns when the database was last written by a newer binary
// and records this binary's version otherwise.
func (a *app) checkVersion(ctx context.Context, database *db.DB) error {
	current := version()
	stored, err := database.GetMetadata(ctx, db.MetaVersion)
	if err != nil {
		return err
	}
	if stored != "" && semver.Compare(current, stored) < 0 {
		a.logger.Warn("database was written by a newer asana2sql; rebuild or upgrade",
			"binary", current, "database", stored)
		return nil
	}
	if a.cfg.Database.Dry || stored == current {
		return nil
	}
	return database.SetMetadata(ctx, db.MetaVersion, current)
}

func newVersionCmd(a *app) *cobra.Command {
	var require string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version()
			fmt.Fprintf(a.stdout, "asana2sql %s\n", v)
			if require == "" {
				return nil
			}
			if !strings.HasPrefix(require, "v") {
				require = "v" + require
			}
			if !semver.IsValid(require) {
				return fmt.Errorf("invalid version %q", require)
			}
			if semver.Compare(v, require) < 0 {
				return fmt.Errorf("asana2sql %s is older than required %s", v, require)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&require, "require", "", "fail unless this binary is at least this version")
	return cmd
}
