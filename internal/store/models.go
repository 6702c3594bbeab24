package store

import (
	"time"

	"attest/api/internal/changes"
)

// Document is the mutable current state of an organization document. It is
// only ever mutated through the update path that runs the change detector.
type Document struct {
	ID                     string
	OrganizationID         string
	Title                  string
	Description            string
	Content                string
	WordCount              int
	EstimatedReadingTime   int
	FolderPath             string
	Version                int
	RequiresAcknowledgment bool
	AccessRoles            []string
	CreatedBy              string
	UpdatedBy              string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DocumentVersion is an immutable snapshot of a document at one version
// number. Rows are created once per qualifying edit and never mutated.
type DocumentVersion struct {
	ID                     string
	DocumentID             string
	VersionNumber          int
	Title                  string
	Description            string
	Content                string
	FolderPath             string
	WordCount              int
	EstimatedReadingTime   int
	RequiresAcknowledgment bool
	AccessRoles            []string
	ChangeSummary          string
	ChangeMetadata         changes.Metadata
	CreatedBy              string
	CreatedAt              time.Time
}

// Acknowledgment is the single record for a (document, user) pair. It is
// valid while RequiresReacknowledgment is false and is renewed in place,
// never duplicated.
type Acknowledgment struct {
	ID                       string
	DocumentID               string
	UserID                   string
	AcknowledgedAt           time.Time
	AcknowledgedVersion      int
	IPAddress                string
	Notes                    string
	RequiresReacknowledgment bool
	InvalidatedAt            *time.Time
}

// Member is a resolved organization membership. Identity and role data is
// consumed as an opaque lookup.
type Member struct {
	UserID         string
	OrganizationID string
	DisplayName    string
	Email          string
	Role           string
	Active         bool
	JoinedAt       time.Time
}

// Notification is one persisted entry for the notification sink.
type Notification struct {
	ID         string
	UserID     string
	EntityType string
	EntityID   string
	Title      string
	Message    string
	CustomData map[string]any
	CreatedAt  time.Time
	ReadAt     *time.Time
}

// VersionStatistics aggregates a document's version history.
type VersionStatistics struct {
	TotalVersions        int        `json:"total_versions"`
	FirstVersionAt       *time.Time `json:"first_version_at"`
	LastVersionAt        *time.Time `json:"last_version_at"`
	DistinctContributors int        `json:"distinct_contributors"`
	VersionFrequency     float64    `json:"version_frequency"`
}

// PendingAcknowledgment is one (user, document) pair awaiting
// re-acknowledgment, joined with the latest version's change summary.
type PendingAcknowledgment struct {
	DocumentID          string     `json:"document_id"`
	DocumentTitle       string     `json:"document_title"`
	UserID              string     `json:"user_id"`
	UserName            string     `json:"user_name"`
	AcknowledgedVersion int        `json:"acknowledged_version"`
	InvalidatedAt       *time.Time `json:"invalidated_at"`
	ChangeSummary       string     `json:"change_summary"`
}

// MemberAcknowledgment is one per-member row of a document's acknowledgment
// status: every active member appears, acknowledged or not.
type MemberAcknowledgment struct {
	UserID              string     `json:"user_id"`
	DisplayName         string     `json:"display_name"`
	Email               string     `json:"email"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at"`
	AcknowledgedVersion int        `json:"acknowledged_version"`
	IPAddress           string     `json:"ip_address"`
	IsValid             bool       `json:"is_valid"`
}

// ComplianceCounts are the raw counts behind an organization compliance
// report. Rates are derived in the service layer.
type ComplianceCounts struct {
	DocumentsRequiringAck int
	ActiveMembers         int
	ValidAcknowledgments  int
}

// VersionAnalyticsCounts are the raw counts behind acknowledgment/version
// analytics for an organization.
type VersionAnalyticsCounts struct {
	TotalAcknowledgments  int
	ValidAcknowledgments  int
	UpToDateDocuments     int
	DocumentsRequiringAck int
	AverageLag            float64
}
