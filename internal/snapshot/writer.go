package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
)

// Writer writes entities into a snapshot directory. Every file is written
// atomically via a temp file and rename, so a watching daemon never reads a
// partial object.
type Writer struct {
	root string
}

// NewWriter returns a Writer for root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// WriteProject writes project.json.
func (w *Writer) WriteProject(project asana.Entity) error {
	return writeEntity(filepath.Join(w.root, ProjectFile), project)
}

// WriteTask writes tasks/{id}.json.
func (w *Writer) WriteTask(task asana.Entity) error {
	id, ok := task.ID()
	if !ok {
		return fmt.Errorf("cannot write task without id")
	}
	return writeEntity(filepath.Join(w.root, TasksDir, fileName(id)), task)
}

// WriteCustomField writes custom_fields/{id}.json.
func (w *Writer) WriteCustomField(field asana.Entity) error {
	id, ok := field.ID()
	if !ok {
		return fmt.Errorf("cannot write custom field without id")
	}
	return writeEntity(filepath.Join(w.root, CustomFieldsDir, fileName(id)), field)
}

// RemoveTask deletes tasks/{id}.json. A missing file is not an error.
func (w *Writer) RemoveTask(id int64) error {
	err := os.Remove(filepath.Join(w.root, TasksDir, fileName(id)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove task %d: %w", id, err)
	}
	return nil
}

// TaskIDs lists the ids of the task files present.
func (w *Writer) TaskIDs() ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(w.root, TasksDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}
	var ids []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := TaskIDFromPath(entry.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func writeEntity(path string, e asana.Entity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Remote is the API surface Pull reads from. *asana.Client implements it.
type Remote interface {
	Project(ctx context.Context, id int64) (asana.Entity, error)
	Tasks(ctx context.Context, projectID int64, q asana.TaskQuery) ([]asana.Entity, error)
	CustomField(ctx context.Context, id int64) (asana.Entity, error)
}

// PullResult summarises a Pull.
type PullResult struct {
	Tasks        int
	CustomFields int
	Removed      int
}

// Pull mirrors a remote project into the Writer's directory. Task files for
// tasks no longer present remotely are removed, so the snapshot converges on
// the remote state the same way a synchronize pass does.
func Pull(ctx context.Context, remote Remote, projectID int64, fields []string, w *Writer) (PullResult, error) {
	var result PullResult

	project, err := remote.Project(ctx, projectID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch project %d: %w", projectID, err)
	}
	tasks, err := remote.Tasks(ctx, projectID, asana.TaskQuery{Fields: fields})
	if err != nil {
		return result, fmt.Errorf("failed to fetch tasks: %w", err)
	}

	if err := w.WriteProject(project); err != nil {
		return result, err
	}

	present := make(map[int64]bool, len(tasks))
	seenFields := make(map[int64]bool)
	for _, task := range tasks {
		id, ok := task.ID()
		if !ok {
			continue
		}
		if err := w.WriteTask(task); err != nil {
			return result, err
		}
		present[id] = true
		result.Tasks++

		for _, cf := range task.List("custom_fields") {
			cfID, ok := cf.ID()
			if !ok || seenFields[cfID] {
				continue
			}
			seenFields[cfID] = true
			def, err := remote.CustomField(ctx, cfID)
			if err != nil {
				return result, fmt.Errorf("failed to fetch custom field %d: %w", cfID, err)
			}
			if err := w.WriteCustomField(def); err != nil {
				return result, err
			}
			result.CustomFields++
		}
	}

	existing, err := w.TaskIDs()
	if err != nil {
		return result, err
	}
	for _, id := range existing {
		if present[id] {
			continue
		}
		if err := w.RemoveTask(id); err != nil {
			return result, err
		}
		result.Removed++
	}
	return result, nil
}

// Clean removes the snapshot's generated files.
func Clean(root string) error {
	for _, name := range []string{TasksDir, CustomFieldsDir, ProjectFile} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
	}
	return nil
}

func isTempFile(name string) bool {
	return strings.HasSuffix(name, ".tmp")
}
