package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/solatis/rulekeeper/internal/actions"
	"github.com/solatis/rulekeeper/internal/types"
)

// Task and notification inserts ignore duplicate IDs. The dispatcher reuses
// one ID across retries, so a retry after an ambiguous failure cannot create
// a second row.

// TaskRow is a stored follow-up task.
type TaskRow struct {
	ID          string       `db:"task_id" json:"id"`
	Module      string       `db:"module" json:"module"`
	RecordID    string       `db:"record_id" json:"recordId"`
	RuleID      string       `db:"rule_id" json:"ruleId"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description,omitempty"`
	Priority    string       `db:"priority" json:"priority,omitempty"`
	DueAt       sql.NullTime `db:"due_at" json:"-"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
}

// TaskStore backs create-task actions.
type TaskStore struct {
	q   *Queries
	now func() time.Time
}

// NewTaskStore creates a task store over q.
func NewTaskStore(q *Queries) *TaskStore {
	return &TaskStore{q: q, now: func() time.Time { return time.Now().UTC() }}
}

var _ actions.TaskService = (*TaskStore)(nil)

// CreateTask stores task and returns its ID. DueInDays > 0 sets a due date
// relative to now.
func (s *TaskStore) CreateTask(ctx context.Context, task actions.Task) (string, error) {
	now := s.now()
	var due sql.NullTime
	if task.DueInDays > 0 {
		due = sql.NullTime{Time: now.AddDate(0, 0, task.DueInDays), Valid: true}
	}

	_, err := s.q.Exec(ctx, "insert-task",
		task.ID, task.Module, task.RecordID, task.RuleID,
		task.Title, task.Description, task.Priority, due, now)
	if err != nil {
		return "", fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return task.ID, nil
}

// ListTasks returns tasks created for one record, oldest first.
func (s *TaskStore) ListTasks(ctx context.Context, module types.Module, id types.RecordID) ([]TaskRow, error) {
	var rows []TaskRow
	if err := s.q.Select(ctx, "list-tasks-by-record", &rows, module, id); err != nil {
		return nil, fmt.Errorf("list tasks of %s/%s: %w", module, id, err)
	}
	return rows, nil
}

// NotificationRow is a stored notification.
type NotificationRow struct {
	ID        string    `db:"notification_id" json:"id"`
	Module    string    `db:"module" json:"module"`
	RecordID  string    `db:"record_id" json:"recordId"`
	RuleID    string    `db:"rule_id" json:"ruleId"`
	UserID    string    `db:"user_id" json:"userId,omitempty"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Notifier stores send-notification actions for in-app delivery.
type Notifier struct {
	q   *Queries
	now func() time.Time
}

// NewNotifier creates a database notifier over q.
func NewNotifier(q *Queries) *Notifier {
	return &Notifier{q: q, now: func() time.Time { return time.Now().UTC() }}
}

var _ actions.NotificationService = (*Notifier)(nil)

// Notify stores n.
func (s *Notifier) Notify(ctx context.Context, n actions.Notification) error {
	_, err := s.q.Exec(ctx, "insert-notification",
		n.ID, n.Module, n.RecordID, n.RuleID, n.UserID, n.Title, n.Message, s.now())
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

// ListNotifications returns notifications raised for one record, oldest first.
func (s *Notifier) ListNotifications(ctx context.Context, module types.Module, id types.RecordID) ([]NotificationRow, error) {
	var rows []NotificationRow
	if err := s.q.Select(ctx, "list-notifications-by-record", &rows, module, id); err != nil {
		return nil, fmt.Errorf("list notifications of %s/%s: %w", module, id, err)
	}
	return rows, nil
}
