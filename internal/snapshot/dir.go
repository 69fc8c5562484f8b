// Package snapshot provides a directory mirror of one remote project that can
// stand in for the HTTP API as a sync source.
//
// A snapshot directory has this layout:
//
//	project.json             the project object
//	tasks/{id}.json          one file per task
//	custom_fields/{id}.json  custom field definitions, with enum options
//
// Objects are stored exactly as the API returns them, so a snapshot written by
// Pull and read back by Dir yields the same entities.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
)

// Layout names.
const (
	ProjectFile     = "project.json"
	TasksDir        = "tasks"
	CustomFieldsDir = "custom_fields"
)

// Dir reads a snapshot directory. It implements the remote source interfaces
// of the project and workspace packages.
type Dir struct {
	root   string
	logger *slog.Logger
}

// NewDir returns a source reading from root.
func NewDir(root string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{root: root, logger: logger.With("component", "snapshot")}
}

// Root returns the snapshot directory.
func (d *Dir) Root() string {
	return d.root
}

// Project returns the snapshot's project. A snapshot holds a single project;
// any other id is not found.
func (d *Dir) Project(ctx context.Context, id int64) (asana.Entity, error) {
	e, err := readEntity(filepath.Join(d.root, ProjectFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &asana.NotFoundError{Resource: "project", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if got, ok := e.ID(); ok && got != id {
		return nil, &asana.NotFoundError{Resource: "project", ID: id}
	}
	return e, nil
}

// CustomField returns the custom field definition stored for id.
func (d *Dir) CustomField(ctx context.Context, id int64) (asana.Entity, error) {
	e, err := readEntity(filepath.Join(d.root, CustomFieldsDir, fileName(id)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &asana.NotFoundError{Resource: "custom_field", ID: id}
	}
	return e, err
}

// Tasks returns the project's tasks ordered by id, restricted to q.Fields
// when it is set. Tasks whose modified_at predates q.ModifiedSince are
// skipped; tasks without a parseable modified_at are kept. A task file that
// cannot be parsed or has no id fails the whole read, so a half-written file
// never shrinks the task set.
func (d *Dir) Tasks(ctx context.Context, projectID int64, q asana.TaskQuery) ([]asana.Entity, error) {
	if _, err := d.Project(ctx, projectID); err != nil {
		return nil, err
	}

	dir := filepath.Join(d.root, TasksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []asana.Entity{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	type keyed struct {
		id   int64
		task asana.Entity
	}
	var tasks []keyed
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		task, err := readEntity(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("invalid task file %s: %w", entry.Name(), err)
		}
		id, ok := task.ID()
		if !ok {
			return nil, fmt.Errorf("invalid task file %s: no id", entry.Name())
		}
		if !q.ModifiedSince.IsZero() && modifiedBefore(task, q.ModifiedSince) {
			continue
		}
		if len(q.Fields) > 0 {
			task = task.Select(q.Fields)
		}
		tasks = append(tasks, keyed{id, task})
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id < tasks[j].id })
	out := make([]asana.Entity, len(tasks))
	for i, t := range tasks {
		out[i] = t.task
	}
	d.logger.Debug("read snapshot tasks", "project_id", projectID, "count", len(out))
	return out, nil
}

func modifiedBefore(task asana.Entity, since time.Time) bool {
	s, _ := task["modified_at"].(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return false
	}
	return t.Before(since)
}

func readEntity(path string) (asana.Entity, error) {
	// #nosec G304 - path is built from the snapshot root
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := asana.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return e, nil
}

func fileName(id int64) string {
	return strconv.FormatInt(id, 10) + ".json"
}

// TaskIDFromPath returns the task id encoded in a tasks/{id}.json path.
func TaskIDFromPath(path string) (int64, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(base, ".json"), 10, 64)
	return id, err == nil
}
