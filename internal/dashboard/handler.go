package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/project"
)

// Broadcaster sends messages to clients. *Server implements it.
type Broadcaster interface {
	Broadcast(msg Message)
}

// TaskUpdateData describes one task row change.
type TaskUpdateData struct {
	ProjectID int64  `json:"project_id"`
	TaskID    int64  `json:"task_id"`
	Action    string `json:"action"` // upserted, deleted
	Name      string `json:"name,omitempty"`
	Completed *bool  `json:"completed,omitempty"`
}

// SyncCompleteData summarises a pass.
type SyncCompleteData struct {
	ProjectID int64         `json:"project_id"`
	Table     string        `json:"table"`
	Mode      string        `json:"mode"`
	Fetched   int           `json:"fetched"`
	Upserted  int           `json:"upserted"`
	Deleted   int           `json:"deleted"`
	Duration  time.Duration `json:"duration"`
}

// SyncErrorData reports a failed pass.
type SyncErrorData struct {
	Error string `json:"error"`
}

// StatsData accumulates over the handler's lifetime.
type StatsData struct {
	Passes        int       `json:"passes"`
	Failures      int       `json:"failures"`
	Tasks         int       `json:"tasks"`
	Completed     int       `json:"completed"`
	TotalUpserted int       `json:"total_upserted"`
	TotalDeleted  int       `json:"total_deleted"`
	LastSync      time.Time `json:"last_sync,omitzero"`
}

// Handler turns pass progress into dashboard messages. It implements
// project.Observer.
type Handler struct {
	out    Broadcaster
	logger *slog.Logger

	mu        sync.Mutex
	stats     StatsData
	completed map[int64]bool
	pass      map[int64]bool
}

// NewHandler creates a handler. When out is a *Server, new clients receive
// the current statistics on connect.
func NewHandler(out Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		out:       out,
		logger:    logger.With("component", "dashboard"),
		completed: make(map[int64]bool),
		pass:      make(map[int64]bool),
	}
	if s, ok := out.(*Server); ok {
		s.SetWelcome(func() (Message, bool) {
			msg, err := h.statsMessage()
			return msg, err == nil
		})
	}
	return h
}

var _ project.Observer = (*Handler)(nil)

// TaskUpserted broadcasts a task_update.
func (h *Handler) TaskUpserted(projectID int64, task asana.Entity) {
	id, _ := task.ID()
	data := TaskUpdateData{ProjectID: projectID, TaskID: id, Action: "upserted", Name: task.Name()}
	if c, ok := task["completed"].(bool); ok {
		data.Completed = &c
	}

	h.mu.Lock()
	h.pass[id] = true
	if data.Completed != nil {
		h.completed[id] = *data.Completed
	}
	h.mu.Unlock()

	h.send(MessageTypeTaskUpdate, data)
}

// TaskDeleted broadcasts a task_update with action deleted.
func (h *Handler) TaskDeleted(projectID, taskID int64) {
	h.mu.Lock()
	delete(h.completed, taskID)
	h.mu.Unlock()

	h.send(MessageTypeTaskUpdate, TaskUpdateData{ProjectID: projectID, TaskID: taskID, Action: "deleted"})
}

// PassComplete broadcasts sync_complete followed by stats.
func (h *Handler) PassComplete(r project.Result) {
	h.mu.Lock()
	h.stats.Passes++
	h.stats.TotalUpserted += r.Upserted
	h.stats.TotalDeleted += r.Deleted
	h.stats.LastSync = time.Now()
	if r.Mode == project.ModeSynchronize {
		// a synchronize pass leaves exactly the fetched tasks stored
		for id := range h.completed {
			if !h.pass[id] {
				delete(h.completed, id)
			}
		}
		h.stats.Tasks = len(h.pass)
	} else if len(h.pass) > h.stats.Tasks {
		h.stats.Tasks = len(h.pass)
	}
	h.stats.Completed = 0
	for _, c := range h.completed {
		if c {
			h.stats.Completed++
		}
	}
	clear(h.pass)
	h.mu.Unlock()

	h.logger.Debug("pass broadcast", "table", r.Table, "upserted", r.Upserted, "deleted", r.Deleted)
	h.send(MessageTypeSyncComplete, SyncCompleteData{
		ProjectID: r.ProjectID,
		Table:     r.Table,
		Mode:      r.Mode,
		Fetched:   r.Fetched,
		Upserted:  r.Upserted,
		Deleted:   r.Deleted,
		Duration:  r.Duration,
	})
	h.broadcastStats()
}

// OnPass records failed passes. Its signature matches daemon.Config.OnPass;
// successful passes are already reported through PassComplete.
func (h *Handler) OnPass(_ project.Result, err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.stats.Failures++
	clear(h.pass)
	h.mu.Unlock()

	h.send(MessageTypeSyncError, SyncErrorData{Error: err.Error()})
	h.broadcastStats()
}

// Stats returns the current statistics.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() (Message, error) {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}, nil
}

func (h *Handler) broadcastStats() {
	msg, err := h.statsMessage()
	if err != nil {
		h.logger.Warn("failed to marshal stats", "error", err)
		return
	}
	h.out.Broadcast(msg)
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal message", "type", typ, "error", err)
		return
	}
	h.out.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
