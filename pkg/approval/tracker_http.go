package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// HTTPTracker reads change requests from a Jira-style REST endpoint.
// Calls are rate limited and bounded by the configured timeout on top of
// whatever deadline the caller's context already carries.
type HTTPTracker struct {
	endpoint string
	token    string
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewHTTPTracker creates a tracker client. timeout bounds each call; zero
// means 10 seconds.
func NewHTTPTracker(endpoint, token string, timeout time.Duration) *HTTPTracker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTracker{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(time.Second/2), 10),
		timeout:  timeout,
	}
}

// trackerIssue is the subset of the tracker's issue representation the gate
// needs. Field paths follow Jira's issue schema.
type trackerIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		ApproverRole string `json:"approver_role"`
	} `json:"fields"`
}

func (t *HTTPTracker) GetChangeRequest(ctx context.Context, crID string) (*ChangeRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tracker rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/rest/api/2/issue/%s", t.endpoint, url.PathEscape(crID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build tracker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("tracker returned status %d for %s", resp.StatusCode, crID)
	}

	var issue trackerIssue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("decode tracker response: %w", err)
	}

	return &ChangeRequest{
		CRID:         issue.Key,
		Status:       Status(issue.Fields.Status.Name),
		ApproverRole: issue.Fields.ApproverRole,
		Summary:      issue.Fields.Summary,
	}, nil
}
