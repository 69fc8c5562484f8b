// Command asana2sql mirrors an Asana project into a SQL database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mschirtzinger/asana2sql/internal/config"
	"github.com/Mschirtzinger/asana2sql/internal/logging"
	"github.com/Mschirtzinger/asana2sql/internal/ui"
)

// Exit codes.
const (
	exitError  = 1
	exitConfig = 2
)

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	noColor bool

	cfg      *config.Config
	cfgUsed  string
	level    slog.LevelVar
	logger   *logging.Logger
	stdout   io.Writer
	stderr   io.Writer
	printer  *ui.Printer
	noDotEnv bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
	if errors.Is(err, config.ErrConfiguration) {
		os.Exit(exitConfig)
	}
	os.Exit(exitError)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "asana2sql",
		Short: "Mirror Asana projects into SQL tables",
		Long: `asana2sql caches the tasks of an Asana project in a SQLite or libSQL
database and keeps the cache converged with the remote project.

Settings come from flags, ASANA2SQL_* environment variables (a .env file is
loaded first), and asana2sql.toml, in that order of precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default: search ., $XDG_CONFIG_HOME/asana2sql, ~/.asana2sql)")
	f.BoolVar(&a.noDotEnv, "no-dotenv", false, "do not load .env")
	f.BoolVar(&a.noColor, "no-color", false, "disable coloured output")
	f.Int64("project-id", 0, "Asana project id")
	f.String("table-name", "", "primary table name, used verbatim and quoted (default: the project name made SQL-safe)")
	f.Bool("derive-fields", false, "mirror the default task columns and relation tables")
	f.String("source", "", "task source: api or snapshot")
	f.String("snapshot-dir", "", "snapshot directory for the snapshot source")
	f.String("driver", "", "database driver: sqlite or libsql")
	f.String("dsn", "", "database file or libsql:// URL")
	f.Bool("dump-sql", false, "print every SQL statement")
	f.Bool("dry", false, "skip writes (reads still run)")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-file", "", "also write JSON logs to this rotated file")
	for key, flag := range map[string]string{
		"project_id":        "project-id",
		"table_name":        "table-name",
		"derive_fields":     "derive-fields",
		"source.kind":       "source",
		"source.dir":        "snapshot-dir",
		"database.driver":   "driver",
		"database.dsn":      "dsn",
		"database.dump_sql": "dump-sql",
		"database.dry":      "dry",
		"log.level":         "log-level",
		"log.file":          "log-file",
	} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}

	root.AddCommand(
		newCreateCmd(a),
		newExportCmd(a),
		newSynchronizeCmd(a),
		newStatusCmd(a),
		newDaemonCmd(a),
		newSnapshotCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load resolves the configuration and builds the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if !a.noDotEnv {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
	}
	used, err := config.ReadFile(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfgUsed = used

	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.level.Set(level)
	console, _ := a.stderr.(*os.File)
	a.logger = logging.New(logging.Options{
		Level:      &a.level,
		Console:    console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	a.printer = ui.New(a.stdout, a.noColor)

	if used != "" {
		a.logger.Debug("loaded config", "file", used)
	}
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			fmt.Fprintf(a.stderr, "failed to close log file: %v\n", err)
		}
	}
}
