package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
)

// ImportOptions configures ImportJSONL.
type ImportOptions struct {
	// From is the JSON-lines file, one task object per line.
	From string
	// To is the snapshot directory written to.
	To string
	// Project is written as project.json when the directory has none yet.
	Project asana.Entity
	DryRun  bool
	Backup  bool
}

// ImportResult reports what ImportJSONL did.
type ImportResult struct {
	TasksConverted int
	FilesWritten   int
	BackupCreated  string
	Errors         []string
}

const maxLineSize = 16 << 20

// ImportJSONL converts a JSON-lines task export into a snapshot directory.
// Lines that fail to parse or lack an id are reported in Errors and skipped.
func ImportJSONL(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.From); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.From + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.From)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	w := NewWriter(opts.To)
	if opts.Project != nil && !opts.DryRun {
		if _, err := os.Stat(filepath.Join(opts.To, ProjectFile)); os.IsNotExist(err) {
			if err := w.WriteProject(opts.Project); err != nil {
				return nil, err
			}
			result.FilesWritten++
		}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		task, err := asana.Decode(line)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		if _, ok := task.ID(); !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: task has no id", lineNum))
			continue
		}

		if !opts.DryRun {
			if err := w.WriteTask(task); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			result.FilesWritten++
		}
		result.TasksConverted++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read JSONL at line %d: %w", lineNum+1, err)
	}
	return result, nil
}
