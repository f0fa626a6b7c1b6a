package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Request statuses. A request is open until it reaches a terminal status.
const (
	RequestStatusPending    = "pending"
	RequestStatusProcessing = "processing"
	RequestStatusCompleted  = "completed"
	RequestStatusFailed     = "failed"
	RequestStatusCancelled  = "cancelled"
)

// OpenRequestStatuses returns the statuses that count as in-flight work.
func OpenRequestStatuses() []string {
	return []string{RequestStatusPending, RequestStatusProcessing}
}

// Request is a unit of work submitted against a project.
type Request struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveRequest inserts a new request. The caller supplies the id.
func (s *Store) SaveRequest(ctx context.Context, req Request) error {
	if req.ID == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	if req.ProjectID == "" {
		return fmt.Errorf("request project id cannot be empty")
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if req.Status == "" {
		req.Status = RequestStatusPending
	}

	now := time.Now().UTC()
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, project_id, role, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ProjectID, req.Role, req.Content, req.Status, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// UpdateRequestStatus transitions a request to a new status.
func (s *Store) UpdateRequestStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update request %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRequest fetches a single request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, role, content, status, created_at, updated_at
		FROM requests WHERE id = ?`, id,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// ListRequestsByProject returns a project's requests, oldest first.
func (s *Store) ListRequestsByProject(ctx context.Context, projectID string) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, role, content, status, created_at, updated_at
		FROM requests WHERE project_id = ? ORDER BY created_at ASC, id ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.ProjectID, &req.Role, &req.Content, &req.Status,
		&req.CreatedAt, &req.UpdatedAt,
	)
	return req, err
}
