package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/config"
	"github.com/Mschirtzinger/asana2sql/internal/db"
	"github.com/Mschirtzinger/asana2sql/internal/fields"
	"github.com/Mschirtzinger/asana2sql/internal/project"
	"github.com/Mschirtzinger/asana2sql/internal/snapshot"
	"github.com/Mschirtzinger/asana2sql/internal/workspace"
)

// remote is what a pass reads from. *asana.Client and *snapshot.Dir both
// implement it.
type remote interface {
	project.Source
	workspace.CustomFieldSource
}

// pipeline is the wired set of components one command drives.
type pipeline struct {
	db        *db.DB
	store     *db.Wrapper
	remote    remote
	workspace *workspace.Workspace
	project   *project.Project
}

func (p *pipeline) Close() error {
	return p.db.Close()
}

// newRemote builds the configured task source.
func (a *app) newRemote() (remote, error) {
	switch a.cfg.Source.Kind {
	case config.SourceSnapshot:
		return snapshot.NewDir(a.cfg.Source.Dir, a.logger.Logger), nil
	default:
		return a.newClient()
	}
}

func (a *app) newClient() (*asana.Client, error) {
	if a.cfg.Asana.AccessToken == "" {
		return nil, config.Errorf("asana.access_token", "required for the api source (set %s_ASANA_ACCESS_TOKEN)", config.EnvPrefix)
	}
	return asana.NewClient(asana.ClientConfig{
		AccessToken: a.cfg.Asana.AccessToken,
		BaseURL:     a.cfg.Asana.BaseURL,
		SkipVerify:  !a.cfg.Asana.Verify,
		RateLimit:   a.cfg.Asana.RateLimit,
		Timeout:     a.cfg.Asana.Timeout,
		Logger:      a.logger.Logger,
	})
}

// openPipeline wires source, store, workspace and project from the
// configuration. The caller must Close it.
func (a *app) openPipeline(ctx context.Context, observer project.Observer) (*pipeline, error) {
	if err := a.cfg.RequireProject(); err != nil {
		return nil, err
	}
	since, err := config.ParseModifiedSince(a.cfg.ModifiedSince, time.Now())
	if err != nil {
		return nil, err
	}
	src, err := a.newRemote()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(db.Config{Driver: a.cfg.Database.Driver, DSN: a.cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		database.Close()
		return nil, err
	}
	if err := a.checkVersion(ctx, database); err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewWrapper(database.RawDB(), db.WrapperOptions{
		DumpSQL: a.cfg.Database.DumpSQL,
		Dry:     a.cfg.Database.Dry,
		Out:     a.stdout,
		Logger:  a.logger.Logger,
	})
	ws := workspace.New(store, src, a.cfg.Tables, workspace.Options{Logger: a.logger.Logger})

	fs := []fields.Field{fields.NewPrimaryKey("id", fields.Integer)}
	if a.cfg.DeriveFields {
		fs = fields.Defaults(ws)
	}

	opts := project.Options{Logger: a.logger.Logger, Observer: observer}
	if !a.cfg.Database.Dry {
		opts.RunLog = database
	}
	p := project.New(src, store, ws, project.Config{
		ProjectID:     a.cfg.ProjectID,
		TableName:     a.cfg.TableName,
		ModifiedSince: since,
	}, fs, opts)

	return &pipeline{db: database, store: store, remote: src, workspace: ws, project: p}, nil
}

// ensureTables creates the primary and auxiliary tables if missing.
func (p *pipeline) ensureTables(ctx context.Context) (string, error) {
	if err := p.project.CreateTable(ctx); err != nil {
		return "", err
	}
	table, err := p.project.TableName(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve table name: %w", err)
	}
	return table, nil
}
