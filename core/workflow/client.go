package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pipewise-ops/config"
)

const (
	TypeProspectScan       = "prospect_scan"
	TypePhase2Requirements = "phase2_requirements"
)

type ScanPayload struct {
	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain"`
	WebscanType   string `json:"webscan_type"`
	ContactEmail  string `json:"contact_email"`
	ContactName   string `json:"contact_name"`
	ProspectID    int64  `json:"prospect_id"`
}

type RequirementsPayload struct {
	AssessmentID        int64  `json:"assessment_id"`
	CallbackURL         string `json:"callback_url"`
	WorkflowExecutionID int64  `json:"workflow_execution_id"`
}

// Trigger fires outbound webhook calls to the automation engine.
type Trigger interface {
	TriggerScan(ctx context.Context, payload ScanPayload) error
	TriggerRequirements(ctx context.Context, payload RequirementsPayload) error
}

type Client struct {
	cfg    config.WorkflowConfig
	client *http.Client
}

func NewClient(cfg config.WorkflowConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// StripScheme normalizes a company domain for the engine payload.
func StripScheme(domain string) string {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimSuffix(d, "/")
}

func (c *Client) TriggerScan(ctx context.Context, payload ScanPayload) error {
	payload.CompanyDomain = StripScheme(payload.CompanyDomain)
	if payload.WebscanType == "" {
		payload.WebscanType = TypeProspectScan
	}
	return c.post(ctx, c.cfg.ScanWebhookURL, payload)
}

func (c *Client) TriggerRequirements(ctx context.Context, payload RequirementsPayload) error {
	if payload.CallbackURL == "" {
		payload.CallbackURL = strings.TrimRight(c.cfg.CallbackBaseURL, "/") + "/api/workflow/callback"
	}
	return c.post(ctx, c.cfg.RequirementsWebhookURL, payload)
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("workflow webhook url not configured")
	}
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("workflow engine status %d", resp.StatusCode)
}

var _ Trigger = (*Client)(nil)
