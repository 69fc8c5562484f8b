package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by RunWizard when stdin is not a terminal.
var ErrNotInteractive = errors.New("config init needs an interactive terminal")

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// RunWizard asks for the settings a first sync needs, starting from base.
func RunWizard(base Config) (*Config, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}

	cfg := base
	projectID := ""
	if cfg.ProjectID > 0 {
		projectID = strconv.FormatInt(cfg.ProjectID, 10)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project id").
				Description("Numeric id of the project to mirror").
				Value(&projectID).
				Validate(validateProjectID),
			huh.NewSelect[string]().
				Title("Task source").
				Options(
					huh.NewOption("Asana API", SourceAPI),
					huh.NewOption("Snapshot directory", SourceSnapshot),
				).
				Value(&cfg.Source.Kind),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Personal access token").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Asana.AccessToken),
		).WithHideFunc(func() bool { return cfg.Source.Kind != SourceAPI }),
		huh.NewGroup(
			huh.NewInput().
				Title("Snapshot directory").
				Value(&cfg.Source.Dir).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("required")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return cfg.Source.Kind != SourceSnapshot }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database driver").
				Options(huh.NewOptions("sqlite", "libsql")...).
				Value(&cfg.Database.Driver),
			huh.NewInput().
				Title("Database").
				Description("File path, or a libsql:// URL for Turso").
				Value(&cfg.Database.DSN),
			huh.NewConfirm().
				Title("Create the default columns and relation tables?").
				Value(&cfg.DeriveFields),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(projectID, 10, 64)
	if err != nil {
		return nil, Errorf("project_id", "%v", err)
	}
	cfg.ProjectID = id
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateProjectID(s string) error {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return errors.New("must be a positive integer")
	}
	return nil
}
