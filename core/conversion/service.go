package conversion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/prospects"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const (
	ErrorCodeInvalidRequest   = "conversion.invalid_request"
	ErrorCodeMissingProspects = "conversion.missing_prospects"
	ErrorCodeNotReady         = "conversion.prospect_not_ready"
	ErrorCodeNoOrganization   = "conversion.no_organization"
	ErrorCodeMixedOrgs        = "conversion.mixed_organizations"
	ErrorCodeInsertFailed     = "conversion.insert_failed"
)

const (
	AuditConvert     = "conversion.convert"
	AuditPartialSync = "conversion.prospect_sync_failed"
)

const (
	CustomerStatusActive = "active"
	CustomerPhaseDefault = "phase1_delivered"
)

type Service struct {
	orgs      store.OrganizationsStore
	prospects store.ProspectsStore
	customers store.CustomersStore
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewService(orgs store.OrganizationsStore, ps store.ProspectsStore, cs store.CustomersStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{orgs: orgs, prospects: ps, customers: cs, audits: audits, logger: logger}
}

type ConvertInput struct {
	ProspectIDs    []int64
	AccountManager string
	Notes          string
	AutoApprove    bool
}

type ConvertResult struct {
	BatchID   string           `json:"conversion_batch_id"`
	Customers []store.Customer `json:"customers"`
	// ProspectSyncFailed marks the partially-applied state where customer
	// rows exist but the source prospects kept their old status. Manual
	// reconciliation is implied; nothing is rolled back automatically.
	ProspectSyncFailed bool `json:"prospect_sync_failed,omitempty"`
}

// ConvertBatch promotes a set of prospects to customers. The whole batch is
// validated up front and rejected wholesale on any failure; no partial
// conversion happens before the customer insert.
func (s *Service) ConvertBatch(ctx context.Context, actor string, in ConvertInput) (*ConvertResult, error) {
	ids := dedupeIDs(in.ProspectIDs)
	if len(ids) == 0 {
		return nil, apperr.New(ErrorCodeInvalidRequest, "conversion.error.noProspects")
	}

	rows, err := s.prospects.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		missing := missingIDs(ids, rows)
		return nil, apperr.New(ErrorCodeMissingProspects, "conversion.error.missingProspects").With("prospect_ids", missing)
	}

	// Hard rule: every prospect completed with a report, no exceptions.
	var notReady []int64
	for _, p := range rows {
		if p.Status != string(prospects.StatusCompleted) && p.Status != string(prospects.StatusQualified) {
			notReady = append(notReady, p.ID)
			continue
		}
		if p.ReportHTML == nil || strings.TrimSpace(*p.ReportHTML) == "" {
			notReady = append(notReady, p.ID)
		}
	}
	if len(notReady) > 0 {
		return nil, apperr.New(ErrorCodeNotReady, "conversion.error.prospectNotReady").With("prospect_ids", notReady)
	}

	var noOrg []int64
	for _, p := range rows {
		if p.OrganizationID == nil {
			noOrg = append(noOrg, p.ID)
		}
	}
	if len(noOrg) > 0 {
		return nil, apperr.New(ErrorCodeNoOrganization, "conversion.error.noOrganization").With("prospect_ids", noOrg)
	}

	orgID := *rows[0].OrganizationID
	var mixed []int64
	for _, p := range rows {
		if *p.OrganizationID != orgID {
			mixed = append(mixed, p.ID)
		}
	}
	if len(mixed) > 0 {
		return nil, apperr.New(ErrorCodeMixedOrgs, "conversion.error.mixedOrganizations").
			With("organization_id", orgID).
			With("prospect_ids", mixed)
	}

	batchID := uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC()
	customers := make([]store.Customer, 0, len(rows))
	for _, p := range rows {
		token, err := utils.RandString(48)
		if err != nil {
			return nil, err
		}
		customers = append(customers, store.Customer{
			ProspectID:              p.ID,
			OrganizationID:          orgID,
			ConversionBatchID:       batchID,
			ContractSignedAt:        &now,
			AccountManager:          in.AccountManager,
			Notes:                   in.Notes,
			Status:                  CustomerStatusActive,
			Phase:                   CustomerPhaseDefault,
			PortalToken:             token,
			RequirementsFormStatus:  "draft",
			AutoApproveRequirements: in.AutoApprove,
		})
	}
	if err := s.customers.CreateBatch(ctx, customers); err != nil {
		return nil, apperr.New(ErrorCodeInsertFailed, "conversion.error.insertFailed").With("cause", err.Error())
	}

	result := &ConvertResult{BatchID: batchID, Customers: customers}
	if err := s.prospects.MarkConverted(ctx, ids); err != nil {
		// Customers exist but prospects kept their old status: a known
		// inconsistency window that needs manual reconciliation, distinct
		// from total failure.
		result.ProspectSyncFailed = true
		if s.audits != nil {
			_ = s.audits.Log(ctx, actor, AuditPartialSync, fmt.Sprintf("batch_id=%s cause=%v", batchID, err))
		}
		if s.logger != nil {
			s.logger.Errorf("conversion prospect sync batch=%s: %v", batchID, err)
		}
		return result, nil
	}

	utils.BestEffort(s.logger, "organization type update", func() error {
		return s.orgs.SetOrgType(ctx, orgID, "customer")
	})

	if s.audits != nil {
		_ = s.audits.Log(ctx, actor, AuditConvert, fmt.Sprintf("batch_id=%s org_id=%d count=%d", batchID, orgID, len(customers)))
	}
	return result, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	var out []int64
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []int64, rows []store.Prospect) []int64 {
	found := make(map[int64]struct{}, len(rows))
	for _, p := range rows {
		found[p.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
