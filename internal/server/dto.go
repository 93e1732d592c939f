package server

import (
	"encoding/json"

	"actionline/internal/domain"
	"actionline/internal/worker"
)

type RescanRequest struct {
	MeetingID string `json:"meeting_id" required:"true"`
	Mode      string `json:"mode,omitempty" enum:"new,completed,both"`
}

type RescanJobResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status" enum:"queued,running,done,failed"`
	MeetingID  string              `json:"meeting_id"`
	Mode       string              `json:"mode,omitempty"`
	Error      string              `json:"error,omitempty"`
	EnqueuedAt string              `json:"enqueued_at"`
	FinishedAt string              `json:"finished_at,omitempty"`
	Stats      *domain.RescanStats `json:"stats,omitempty"`
}

func jobResponse(j worker.Job) RescanJobResponse {
	resp := RescanJobResponse{
		ID:         j.ID,
		Status:     j.Status,
		MeetingID:  j.Options.MeetingID,
		Mode:       j.Options.Mode,
		Error:      j.Error,
		EnqueuedAt: j.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if j.Result != nil {
		stats := j.Result.Stats
		resp.Stats = &stats
	}
	return resp
}

type SessionResponse struct {
	ID              string        `json:"id"`
	Alias           string        `json:"alias,omitempty"`
	Kind            string        `json:"kind" enum:"meeting,chat"`
	UserID          string        `json:"user_id"`
	WorkspaceID     string        `json:"workspace_id,omitempty"`
	Title           string        `json:"title,omitempty"`
	SourceMeetingID string        `json:"source_meeting_id,omitempty"`
	ChatSessionID   string        `json:"chat_session_id,omitempty"`
	TaskCount       int           `json:"task_count"`
	Tasks           []domain.Task `json:"tasks,omitempty"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

func sessionResponse(s domain.Session, includeTasks bool) SessionResponse {
	resp := SessionResponse{
		ID:              s.ID,
		Alias:           s.Alias,
		Kind:            s.Kind,
		UserID:          s.UserID,
		WorkspaceID:     s.WorkspaceID,
		Title:           s.Title,
		SourceMeetingID: s.SourceMeetingID,
		ChatSessionID:   s.ChatSessionID,
		TaskCount:       domain.CountTasks(s.Tasks),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if includeTasks {
		resp.Tasks = s.Tasks
	}
	return resp
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s, false))
	}
	return res
}

type ImportSessionRequest struct {
	ID          string `json:"id,omitempty"`
	Alias       string `json:"alias,omitempty"`
	Kind        string `json:"kind,omitempty" enum:"meeting,chat"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
}

type BoardResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	IsDefault bool                 `json:"is_default,omitempty"`
	Columns   []BoardColumnResponse `json:"columns"`
}

type BoardColumnResponse struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Category string             `json:"category" enum:"todo,inprogress,done"`
	Position int                `json:"position"`
	Items    []domain.BoardItem `json:"items"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt}
}
