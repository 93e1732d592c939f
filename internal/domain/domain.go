package domain

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "inprogress"
	StatusDone       = "done"
	StatusRecurring  = "recurring"
)

// Session kinds / completion target source types.
const (
	SourceMeeting = "meeting"
	SourceChat    = "chat"
)

// Assignee identifies who an action item belongs to. Email is the most
// reliable identity signal; Name is a fallback; both may be empty.
type Assignee struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CompletionTarget names exactly which stored task a detected completion
// applies to.
type CompletionTarget struct {
	SourceType      string `json:"source_type" enum:"meeting,chat"`
	SourceSessionID string `json:"source_session_id"`
	TaskID          string `json:"task_id"`
}

// Task is one node of a session's extracted task tree. IDs are assigned by
// the analyzer and stable within one session's lifetime.
type Task struct {
	ID                   string             `json:"id"`
	Title                string             `json:"title"`
	Description          string             `json:"description,omitempty"`
	Status               string             `json:"status" enum:"todo,inprogress,done,recurring"`
	Priority             string             `json:"priority,omitempty"`
	Assignee             *Assignee          `json:"assignee,omitempty"`
	DueAt                *string            `json:"due_at,omitempty" format:"date-time"`
	CompletionSuggested  bool               `json:"completion_suggested,omitempty"`
	CompletionConfidence *float64           `json:"completion_confidence,omitempty"`
	CompletionEvidence   string             `json:"completion_evidence,omitempty"`
	CompletionTargets    []CompletionTarget `json:"completion_targets,omitempty"`
	Subtasks             []Task             `json:"subtasks,omitempty"`
}

// Session is a meeting or chat record holding one task tree. A chat session
// may point back at the meeting it was spawned from; a meeting may carry a
// linked chat session that mirrors its tasks.
type Session struct {
	ID              string `json:"id"`
	Alias           string `json:"alias,omitempty"`
	Kind            string `json:"kind" enum:"meeting,chat"`
	UserID          string `json:"user_id"`
	WorkspaceID     string `json:"workspace_id,omitempty"`
	Title           string `json:"title,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	SourceMeetingID string `json:"source_meeting_id,omitempty"`
	ChatSessionID   string `json:"chat_session_id,omitempty"`
	Tasks           []Task `json:"tasks"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

// FlatTask is the per-user projection of a tree task, used for person-centric
// views. Rows are matched on ID, LegacyID or SourceTaskID during upserts.
type FlatTask struct {
	ID                   string   `json:"id"`
	LegacyID             string   `json:"legacy_id,omitempty"`
	SourceTaskID         string   `json:"source_task_id,omitempty"`
	UserID               string   `json:"user_id"`
	SourceSessionID      string   `json:"source_session_id"`
	SourceType           string   `json:"source_type" enum:"meeting,chat"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Status               string   `json:"status"`
	Priority             string   `json:"priority,omitempty"`
	AssigneeEmail        string   `json:"assignee_email,omitempty"`
	AssigneeName         string   `json:"assignee_name,omitempty"`
	DueAt                *string  `json:"due_at,omitempty" format:"date-time"`
	CompletionSuggested  bool     `json:"completion_suggested,omitempty"`
	CompletionConfidence *float64 `json:"completion_confidence,omitempty"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
}

// Board is a kanban board scoped to a workspace.
type Board struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"is_default,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// BoardStatus is one column of a board. Category maps task statuses onto
// columns so "done" tasks can be re-placed without knowing column names.
type BoardStatus struct {
	ID       string `json:"id"`
	BoardID  string `json:"board_id"`
	Name     string `json:"name"`
	Category string `json:"category" enum:"todo,inprogress,done"`
	Position int    `json:"position"`
}

// BoardItem is the kanban projection of a task: a column plus an ordering
// rank. Rank ties are broken by ID.
type BoardItem struct {
	ID            string  `json:"id"`
	BoardID       string  `json:"board_id"`
	BoardStatusID string  `json:"board_status_id"`
	TaskID        string  `json:"task_id"`
	Rank          float64 `json:"rank"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RescanStats summarizes one reconciliation run.
type RescanStats struct {
	Mode              string `json:"mode" enum:"new,completed,both"`
	NewTasksAdded     int    `json:"new_tasks_added"`
	CompletionUpdates int    `json:"completion_updates"`
	AutoApproved      int    `json:"auto_approved"`
}

// WalkTasks visits every task in the tree depth-first, node before subtasks.
func WalkTasks(tasks []Task, fn func(Task)) {
	for _, t := range tasks {
		fn(t)
		WalkTasks(t.Subtasks, fn)
	}
}

// CountTasks returns the number of nodes in the tree.
func CountTasks(tasks []Task) int {
	n := 0
	WalkTasks(tasks, func(Task) { n++ })
	return n
}
