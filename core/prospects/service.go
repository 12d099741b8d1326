package prospects

import (
	"context"
	"strconv"
	"strings"
	"time"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
	"pipewise-ops/core/workflow"
)

const (
	SourceInbound  = "inbound"
	SourceOutbound = "outbound"
)

const (
	ErrorCodeInvalidRequest = "prospects.invalid_request"
	ErrorCodeNotFound       = "prospects.not_found"
	ErrorCodeDuplicate      = "prospects.duplicate"
	ErrorCodeIllegalStatus  = "prospects.illegal_status"
)

const (
	AuditCreate   = "prospects.create"
	AuditDispatch = "prospects.dispatch"
	AuditReuse    = "prospects.report_reuse"
	AuditComplete = "prospects.scan_complete"
	AuditQualify  = "prospects.qualify"
)

type Service struct {
	orgs      store.OrganizationsStore
	prospects store.ProspectsStore
	trigger   workflow.Trigger
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewService(orgs store.OrganizationsStore, prospects store.ProspectsStore, trigger workflow.Trigger, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{orgs: orgs, prospects: prospects, trigger: trigger, audits: audits, logger: logger}
}

type CreateInput struct {
	CompanyName   string
	CompanyDomain string
	ContactEmail  string
	ContactName   string
	Source        string
}

// Create resolves (or creates) the organization for the company domain and
// inserts the prospect. One prospect per (organization, contact email);
// duplicates are rejected with a conflict.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (*store.Prospect, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.CompanyDomain = store.NormalizeDomain(in.CompanyDomain)
	in.ContactEmail = strings.ToLower(strings.TrimSpace(in.ContactEmail))
	if in.CompanyName == "" || in.CompanyDomain == "" || in.ContactEmail == "" {
		return nil, apperr.New(ErrorCodeInvalidRequest, "prospects.error.missingFields")
	}
	if in.Source != SourceInbound && in.Source != SourceOutbound {
		return nil, apperr.New(ErrorCodeInvalidRequest, "prospects.error.invalidSource").With("source", in.Source)
	}

	org, err := s.orgs.GetByDomain(ctx, in.CompanyDomain)
	if err != nil {
		return nil, err
	}
	if org == nil {
		orgID, err := s.orgs.Create(ctx, in.CompanyName, in.CompanyDomain, "prospect")
		if err != nil {
			return nil, err
		}
		org, err = s.orgs.Get(ctx, orgID)
		if err != nil {
			return nil, err
		}
	}

	exists, err := s.prospects.ExistsByOrgEmail(ctx, org.ID, in.ContactEmail)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(ErrorCodeDuplicate, "prospects.error.duplicate").
			With("organization_id", org.ID).
			With("contact_email", in.ContactEmail)
	}

	p := &store.Prospect{
		OrganizationID: &org.ID,
		CompanyName:    in.CompanyName,
		CompanyDomain:  in.CompanyDomain,
		ContactEmail:   in.ContactEmail,
		ContactName:    strings.TrimSpace(in.ContactName),
		Status:         string(StatusNewInquiry),
		Source:         in.Source,
	}
	id, err := s.prospects.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	auditLog(s.audits, ctx, actor, AuditCreate, "prospect_id=", id)
	return s.prospects.Get(ctx, id)
}

type DispatchResult struct {
	Prospect *store.Prospect `json:"prospect"`
	// Reused reports that an existing completed report of the same
	// organization was copied instead of dispatching a new job.
	Reused  bool `json:"reused"`
	Skipped bool `json:"skipped"`
}

// ReuseOrDispatch decides whether the prospect needs a new generation job or
// can take a sibling's completed report. Report generation is deduplicated at
// organization granularity: same-organization prospects are assumed to share
// an equivalent report.
func (s *Service) ReuseOrDispatch(ctx context.Context, actor string, prospectID int64) (*DispatchResult, error) {
	p, err := s.prospects.Get(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.New(ErrorCodeNotFound, "prospects.error.notFound").With("prospect_id", prospectID)
	}

	status := Status(p.Status)
	// Idempotency guard: a job is in flight or already done.
	if status == StatusProcessing || status == StatusCompleted {
		return &DispatchResult{Prospect: p, Skipped: true}, nil
	}
	if status != StatusNewInquiry && status != StatusPending {
		return nil, apperr.New(ErrorCodeIllegalStatus, "prospects.error.illegalStatus").
			With("prospect_id", p.ID).
			With("status", p.Status)
	}

	if p.OrganizationID != nil {
		sibling, err := s.prospects.CompletedReportForOrg(ctx, *p.OrganizationID, p.ID)
		if err != nil {
			return nil, err
		}
		if sibling != nil && sibling.ReportHTML != nil {
			if err := Transition(status, StatusCompleted); err != nil {
				return nil, err
			}
			if err := s.prospects.SetReport(ctx, p.ID, sibling.ReportHTML, sibling.ReportHTMLPublic, string(StatusCompleted)); err != nil {
				return nil, err
			}
			auditLog(s.audits, ctx, actor, AuditReuse, "prospect_id=", p.ID)
			p, err = s.prospects.Get(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			return &DispatchResult{Prospect: p, Reused: true}, nil
		}
	}

	// Dispatch path. Pending is persisted before the outbound call so
	// concurrent readers see a consistent in-flight state; it is also the
	// safe retry state when the trigger fails.
	if status == StatusNewInquiry {
		if err := Transition(status, StatusPending); err != nil {
			return nil, err
		}
		if err := s.prospects.SetStatus(ctx, p.ID, string(StatusPending)); err != nil {
			return nil, err
		}
	}
	triggerErr := s.trigger.TriggerScan(ctx, workflow.ScanPayload{
		CompanyName:   p.CompanyName,
		CompanyDomain: p.CompanyDomain,
		ContactEmail:  p.ContactEmail,
		ContactName:   p.ContactName,
		ProspectID:    p.ID,
	})
	if triggerErr != nil {
		// Not fatal to the caller: the prospect stays pending for retry.
		if s.logger != nil {
			s.logger.Errorf("prospect scan trigger prospect=%d: %v", p.ID, triggerErr)
		}
		p, err = s.prospects.Get(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return &DispatchResult{Prospect: p}, nil
	}
	if err := s.prospects.SetStatus(ctx, p.ID, string(StatusProcessing)); err != nil {
		return nil, err
	}
	auditLog(s.audits, ctx, actor, AuditDispatch, "prospect_id=", p.ID)
	p, err = s.prospects.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Prospect: p}, nil
}

// CompleteScan stores the generated report delivered by the engine callback.
// A failed scan drops the prospect back to pending so it can be re-dispatched.
func (s *Service) CompleteScan(ctx context.Context, prospectID int64, reportHTML, reportHTMLPublic string, failed bool) (*store.Prospect, error) {
	p, err := s.prospects.Get(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.New(ErrorCodeNotFound, "prospects.error.notFound").With("prospect_id", prospectID)
	}
	status := Status(p.Status)
	if failed {
		if status == StatusProcessing {
			if _, err := s.prospects.SetStatusIf(ctx, p.ID, string(StatusProcessing), string(StatusPending)); err != nil {
				return nil, err
			}
		}
		return s.prospects.Get(ctx, p.ID)
	}
	if status == StatusCompleted {
		return p, nil
	}
	if err := Transition(status, StatusCompleted); err != nil {
		return nil, apperr.New(ErrorCodeIllegalStatus, "prospects.error.illegalStatus").
			With("prospect_id", p.ID).
			With("status", p.Status)
	}
	var publicPtr *string
	if reportHTMLPublic != "" {
		publicPtr = &reportHTMLPublic
	}
	if err := s.prospects.SetReport(ctx, p.ID, &reportHTML, publicPtr, string(StatusCompleted)); err != nil {
		return nil, err
	}
	auditLog(s.audits, ctx, "workflow-engine", AuditComplete, "prospect_id=", p.ID)
	return s.prospects.Get(ctx, p.ID)
}

// Qualify marks a completed prospect as sales-qualified.
func (s *Service) Qualify(ctx context.Context, actor string, prospectID int64) (*store.Prospect, error) {
	p, err := s.prospects.Get(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.New(ErrorCodeNotFound, "prospects.error.notFound").With("prospect_id", prospectID)
	}
	if err := Transition(Status(p.Status), StatusQualified); err != nil {
		return nil, apperr.New(ErrorCodeIllegalStatus, "prospects.error.illegalStatus").
			With("prospect_id", p.ID).
			With("status", p.Status)
	}
	if err := s.prospects.SetQualified(ctx, p.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	auditLog(s.audits, ctx, actor, AuditQualify, "prospect_id=", p.ID)
	return s.prospects.Get(ctx, p.ID)
}

func auditLog(audits store.AuditStore, ctx context.Context, actor, action string, prefix string, id int64) {
	if audits == nil {
		return
	}
	_ = audits.Log(ctx, actor, action, prefix+strconv.FormatInt(id, 10))
}
