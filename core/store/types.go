package store

import "time"

type Organization struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Domain    string     `json:"domain"`
	OrgType   string     `json:"org_type"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Prospect struct {
	ID               int64      `json:"id"`
	OrganizationID   *int64     `json:"organization_id"`
	CompanyName      string     `json:"company_name"`
	CompanyDomain    string     `json:"company_domain"`
	ContactEmail     string     `json:"contact_email"`
	ContactName      string     `json:"contact_name"`
	Status           string     `json:"status"`
	Source           string     `json:"source"`
	ReportHTML       *string    `json:"report_html,omitempty"`
	ReportHTMLPublic *string    `json:"report_html_public,omitempty"`
	QualifiedAt      *time.Time `json:"qualified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Customer struct {
	ID                      int64      `json:"id"`
	ProspectID              int64      `json:"prospect_id"`
	OrganizationID          int64      `json:"organization_id"`
	ConversionBatchID       string     `json:"conversion_batch_id"`
	ContractSignedAt        *time.Time `json:"contract_signed_at,omitempty"`
	AccountManager          string     `json:"account_manager"`
	Notes                   string     `json:"notes"`
	Status                  string     `json:"status"`
	Phase                   string     `json:"phase"`
	PortalToken             string     `json:"-"`
	RequirementsApprovedAt  *time.Time `json:"requirements_approved_at,omitempty"`
	RequirementsApprovedBy  string     `json:"requirements_approved_by"`
	RequirementsFormStatus  string     `json:"requirements_form_status"`
	RequirementsSubmittedAt *time.Time `json:"requirements_submitted_at,omitempty"`
	AutoApproveRequirements bool       `json:"auto_approve_requirements"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

type Assessment struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type DiscoveryQuestion struct {
	ID           int64     `json:"id"`
	AssessmentID int64     `json:"assessment_id"`
	DimensionKey string    `json:"dimension_key"`
	QuestionText string    `json:"question_text"`
	DisplayOrder int       `json:"display_order"`
	IsRequired   bool      `json:"is_required"`
	CreatedAt    time.Time `json:"created_at"`
}

type DiscoveryAnswer struct {
	ID                  int64     `json:"id"`
	DiscoveryQuestionID int64     `json:"discovery_question_id"`
	AnswerText          string    `json:"answer_text"`
	AnswerJSON          *string   `json:"answer_json,omitempty"`
	AnsweredBy          string    `json:"answered_by"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type DocumentRequest struct {
	ID           int64     `json:"id"`
	AssessmentID int64     `json:"assessment_id"`
	DimensionKey string    `json:"dimension_key"`
	SlotKey      string    `json:"slot_key"`
	Title        string    `json:"title"`
	IsRequired   bool      `json:"is_required"`
	CreatedAt    time.Time `json:"created_at"`
}

type DocumentUpload struct {
	ID                int64     `json:"id"`
	AssessmentID      int64     `json:"assessment_id"`
	DocumentRequestID *int64    `json:"document_request_id,omitempty"`
	SlotKey           string    `json:"slot_key"`
	FileName          string    `json:"file_name"`
	StoragePath       string    `json:"storage_path"`
	ContentType       string    `json:"content_type"`
	SizeBytes         int64     `json:"size_bytes"`
	UploadedBy        string    `json:"uploaded_by"`
	CreatedAt         time.Time `json:"created_at"`
}

type WorkflowExecution struct {
	ID              int64      `json:"id"`
	AssessmentID    int64      `json:"assessment_id"`
	WorkflowType    string     `json:"workflow_type"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	RetryCount      int        `json:"retry_count"`
	ErrorMessage    string     `json:"error_message"`
	ErrorDetails    string     `json:"error_details"`
	N8NExecutionID  string     `json:"n8n_execution_id"`
}

type ProspectFilter struct {
	Status         string
	OrganizationID *int64
	Search         string
	Limit          int
	Offset         int
}

type CustomerFilter struct {
	OrganizationID *int64
	Status         string
	Limit          int
	Offset         int
}
