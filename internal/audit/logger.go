package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeUserLogin        EventType = "user_login"
	EventTypeUserLogout       EventType = "user_logout"
	EventTypeTaskLoaded       EventType = "task_loaded"
	EventTypeTaskRejected     EventType = "task_rejected"
	EventTypeBacktestStarted  EventType = "backtest_started"
	EventTypeBacktestFinished EventType = "backtest_finished"
	EventTypeConfigChange     EventType = "config_change"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	ID        string                 `json:"id" db:"id"`
	EventType EventType              `json:"event_type" db:"event_type"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	UserID    string                 `json:"user_id,omitempty" db:"user_id"`
	Username  string                 `json:"username,omitempty" db:"username"`
	IPAddress string                 `json:"ip_address,omitempty" db:"ip_address"`
	Resource  string                 `json:"resource,omitempty" db:"resource"` // e.g. "task:monthly_rotation"
	Action    string                 `json:"action,omitempty" db:"action"`
	Status    string                 `json:"status" db:"status"` // "success", "failure"
	Details   map[string]interface{} `json:"details,omitempty" db:"details"`
	ErrorMsg  string                 `json:"error_msg,omitempty" db:"error_msg"`
	Duration  int64                  `json:"duration_ms,omitempty" db:"duration_ms"`
}

// AuditLogger records operator actions and backtest-engine outcomes
// (task loads, backtest runs, logins) to the audit_logs table.
type AuditLogger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(pool *pgxpool.Pool, logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		pool:   pool,
		logger: logger,
	}
}

// LogEvent logs an audit event to the database
func (a *AuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Status == "" {
		event.Status = "success"
	}

	var detailsJSON []byte
	var err error
	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to marshal audit event details")
			detailsJSON = []byte("{}")
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, event_type, timestamp, user_id, username, ip_address,
			resource, action, status, details, error_msg, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = a.pool.Exec(ctx, query,
		event.ID,
		event.EventType,
		event.Timestamp,
		nullString(event.UserID),
		nullString(event.Username),
		nullString(event.IPAddress),
		nullString(event.Resource),
		nullString(event.Action),
		event.Status,
		detailsJSON,
		nullString(event.ErrorMsg),
		nullInt64(event.Duration),
	)

	if err != nil {
		a.logger.Error().Err(err).Str("event_type", string(event.EventType)).Msg("failed to log audit event")
		return err
	}

	a.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.EventType)).
		Str("resource", event.Resource).
		Str("status", event.Status).
		Msg("audit event logged")

	return nil
}

// LogUserLogin logs a dashboard login attempt.
func (a *AuditLogger) LogUserLogin(ctx context.Context, userID, username, ipAddress string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	a.LogEvent(ctx, &AuditEvent{
		EventType: EventTypeUserLogin,
		UserID:    userID,
		Username:  username,
		IPAddress: ipAddress,
		Resource:  "user:" + userID,
		Action:    "login",
		Status:    status,
	})
}

// LogUserLogout logs a dashboard logout.
func (a *AuditLogger) LogUserLogout(ctx context.Context, userID, username, ipAddress string) {
	a.LogEvent(ctx, &AuditEvent{
		EventType: EventTypeUserLogout,
		UserID:    userID,
		Username:  username,
		IPAddress: ipAddress,
		Resource:  "user:" + userID,
		Action:    "logout",
		Status:    "success",
	})
}

// LogTaskLoad logs a strategy declaration load/validation outcome
// (spec.md §6 load-time validation rules).
func (a *AuditLogger) LogTaskLoad(ctx context.Context, taskName string, err error) {
	event := &AuditEvent{
		EventType: EventTypeTaskLoaded,
		Resource:  "task:" + taskName,
		Action:    "load",
		Status:    "success",
	}
	if err != nil {
		event.EventType = EventTypeTaskRejected
		event.Status = "failure"
		event.ErrorMsg = err.Error()
	}
	a.LogEvent(ctx, event)
}

// LogBacktestRun logs one completed or failed backtest run.
func (a *AuditLogger) LogBacktestRun(ctx context.Context, taskName, backtestType string, status string, duration time.Duration, errMsg string) {
	a.LogEvent(ctx, &AuditEvent{
		EventType: EventTypeBacktestFinished,
		Resource:  "task:" + taskName,
		Action:    "backtest:" + backtestType,
		Status:    status,
		ErrorMsg:  errMsg,
		Duration:  duration.Milliseconds(),
	})
}

// QueryAuditLogs queries audit logs with filters
func (a *AuditLogger) QueryAuditLogs(ctx context.Context, filters AuditQueryFilters) ([]*AuditEvent, error) {
	query := `
		SELECT id, event_type, timestamp, user_id, username, ip_address,
		       resource, action, status, details, error_msg, duration_ms
		FROM audit_logs
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	addFilter := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND %s $%d", clause, argCount)
		args = append(args, value)
		argCount++
	}

	if filters.EventType != "" {
		addFilter("event_type =", filters.EventType)
	}
	if filters.UserID != "" {
		addFilter("user_id =", filters.UserID)
	}
	if filters.Resource != "" {
		addFilter("resource =", filters.Resource)
	}
	if filters.Status != "" {
		addFilter("status =", filters.Status)
	}
	if !filters.StartTime.IsZero() {
		addFilter("timestamp >=", filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		addFilter("timestamp <=", filters.EndTime)
	}

	query += " ORDER BY timestamp DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filters.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{}
		var detailsJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.Timestamp,
			&event.UserID,
			&event.Username,
			&event.IPAddress,
			&event.Resource,
			&event.Action,
			&event.Status,
			&detailsJSON,
			&event.ErrorMsg,
			&event.Duration,
		)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to scan audit event")
			continue
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
				a.logger.Warn().Err(err).Msg("failed to unmarshal audit event details")
			}
		}

		events = append(events, event)
	}

	return events, nil
}

// AuditQueryFilters defines filters for querying audit logs
type AuditQueryFilters struct {
	EventType EventType
	UserID    string
	Resource  string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func generateEventID() string {
	return uuid.NewString()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}
