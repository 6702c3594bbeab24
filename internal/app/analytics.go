package app

import (
	"context"
	"fmt"
	"log"

	"attest/api/internal/cache"
	"attest/api/internal/store"
)

// Report cache scopes. Every write that can shift an organization's numbers
// invalidates both.
const (
	scopeComplianceReport = "compliance_report"
	scopeVersionAnalytics = "version_analytics"
)

// ReportScopes is the full scope set, handed to the cache so an unscoped
// invalidation covers everything the app caches.
var ReportScopes = []string{scopeComplianceReport, scopeVersionAnalytics}

// DocumentAcknowledgmentReport is the per-member acknowledgment status of one
// document. Every active member appears whether they acknowledged or not.
type DocumentAcknowledgmentReport struct {
	DocumentID         string                       `json:"document_id"`
	Members            []store.MemberAcknowledgment `json:"members"`
	TotalRequired      int                          `json:"total_required"`
	TotalAcknowledged  int                          `json:"total_acknowledged"`
	AcknowledgmentRate float64                      `json:"acknowledgment_rate"`
}

// ComplianceReport is the organization-wide acknowledgment picture.
type ComplianceReport struct {
	OrganizationID          string  `json:"organization_id"`
	DocumentsRequiringAck   int     `json:"documents_requiring_acknowledgment"`
	ActiveMembers           int     `json:"active_members"`
	TotalAcknowledgments    int     `json:"total_acknowledgments"`
	ExpectedAcknowledgments int     `json:"expected_acknowledgments"`
	PendingAcknowledgments  int     `json:"pending_acknowledgments"`
	ComplianceRate          float64 `json:"compliance_rate"`
}

// VersionAnalytics relates acknowledgment freshness to document versions
// across an organization.
type VersionAnalytics struct {
	OrganizationID             string  `json:"organization_id"`
	TotalAcknowledgments       int     `json:"total_acknowledgments"`
	ValidAcknowledgments       int     `json:"valid_acknowledgments"`
	AcknowledgmentValidityRate float64 `json:"acknowledgment_validity_rate"`
	UpToDateDocuments          int     `json:"up_to_date_documents"`
	DocumentsRequiringAck      int     `json:"documents_requiring_acknowledgment"`
	VersionComplianceRate      float64 `json:"version_compliance_rate"`
	AverageAcknowledgmentLag   float64 `json:"average_acknowledgment_lag"`
}

// GetDocumentAcknowledgmentStatus reports who has and has not acknowledged a
// document. The rate is a plain fraction, not a percentage, and is zero for
// an organization without active members.
func (s *Service) GetDocumentAcknowledgmentStatus(ctx context.Context, documentID string) (DocumentAcknowledgmentReport, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentAcknowledgmentReport{}, err
	}
	members, err := s.store.DocumentAcknowledgmentRows(ctx, doc.OrganizationID, doc.ID)
	if err != nil {
		return DocumentAcknowledgmentReport{}, fmt.Errorf("document acknowledgment rows: %w", err)
	}
	required, err := s.store.ActiveMemberCount(ctx, doc.OrganizationID)
	if err != nil {
		return DocumentAcknowledgmentReport{}, fmt.Errorf("active member count: %w", err)
	}

	report := DocumentAcknowledgmentReport{
		DocumentID:    doc.ID,
		Members:       members,
		TotalRequired: required,
	}
	for _, member := range members {
		if member.IsValid {
			report.TotalAcknowledged++
		}
	}
	if required > 0 {
		report.AcknowledgmentRate = float64(report.TotalAcknowledged) / float64(required)
	}
	return report, nil
}

// GetComplianceReport computes the organization compliance rate, served from
// the report cache when a fresh entry exists. When the store fails and a
// stale entry is available, the stale report is served instead of the error.
func (s *Service) GetComplianceReport(ctx context.Context, organizationID string) (ComplianceReport, error) {
	var report ComplianceReport
	key := cache.Key{OrganizationID: organizationID, Scope: scopeComplianceReport}
	cached := s.cachedReport(ctx, key, &report)
	if cached == cache.Fresh {
		return report, nil
	}

	counts, err := s.store.ComplianceCounts(ctx, organizationID)
	if err != nil {
		if cached == cache.Stale && s.reports.FallbackToStale() {
			log.Printf("serving stale compliance report: org=%s err=%v", organizationID, err)
			return report, nil
		}
		return ComplianceReport{}, fmt.Errorf("compliance counts: %w", err)
	}

	report = ComplianceReport{
		OrganizationID:          organizationID,
		DocumentsRequiringAck:   counts.DocumentsRequiringAck,
		ActiveMembers:           counts.ActiveMembers,
		TotalAcknowledgments:    counts.ValidAcknowledgments,
		ExpectedAcknowledgments: counts.DocumentsRequiringAck * counts.ActiveMembers,
	}
	if pending := report.ExpectedAcknowledgments - report.TotalAcknowledgments; pending > 0 {
		report.PendingAcknowledgments = pending
	}
	if report.ExpectedAcknowledgments > 0 {
		report.ComplianceRate = float64(report.TotalAcknowledgments) / float64(report.ExpectedAcknowledgments) * 100
	} else {
		// Nothing to acknowledge is full compliance.
		report.ComplianceRate = 100
	}

	s.storeReport(ctx, key, report)
	return report, nil
}

// GetAcknowledgmentVersionAnalytics reports validity and version-freshness
// rates for an organization, cached like the compliance report.
func (s *Service) GetAcknowledgmentVersionAnalytics(ctx context.Context, organizationID string) (VersionAnalytics, error) {
	var analytics VersionAnalytics
	key := cache.Key{OrganizationID: organizationID, Scope: scopeVersionAnalytics}
	cached := s.cachedReport(ctx, key, &analytics)
	if cached == cache.Fresh {
		return analytics, nil
	}

	counts, err := s.store.VersionAnalyticsCounts(ctx, organizationID)
	if err != nil {
		if cached == cache.Stale && s.reports.FallbackToStale() {
			log.Printf("serving stale version analytics: org=%s err=%v", organizationID, err)
			return analytics, nil
		}
		return VersionAnalytics{}, fmt.Errorf("version analytics counts: %w", err)
	}

	analytics = VersionAnalytics{
		OrganizationID:           organizationID,
		TotalAcknowledgments:     counts.TotalAcknowledgments,
		ValidAcknowledgments:     counts.ValidAcknowledgments,
		UpToDateDocuments:        counts.UpToDateDocuments,
		DocumentsRequiringAck:    counts.DocumentsRequiringAck,
		AverageAcknowledgmentLag: counts.AverageLag,
	}
	if counts.TotalAcknowledgments > 0 {
		analytics.AcknowledgmentValidityRate = float64(counts.ValidAcknowledgments) / float64(counts.TotalAcknowledgments) * 100
	} else {
		analytics.AcknowledgmentValidityRate = 100
	}
	if counts.DocumentsRequiringAck > 0 {
		analytics.VersionComplianceRate = float64(counts.UpToDateDocuments) / float64(counts.DocumentsRequiringAck) * 100
	} else {
		analytics.VersionComplianceRate = 100
	}

	s.storeReport(ctx, key, analytics)
	return analytics, nil
}

// cachedReport reads the cache into target, reporting Miss when no cache is
// configured or the read fails. A Stale result leaves the decoded entry in
// target for the stale-fallback path.
func (s *Service) cachedReport(ctx context.Context, key cache.Key, target any) cache.Result {
	if s.reports == nil {
		return cache.Miss
	}
	result, err := s.reports.Get(ctx, key, target)
	if err != nil {
		log.Printf("report cache read failed: org=%s scope=%s err=%v", key.OrganizationID, key.Scope, err)
		return cache.Miss
	}
	return result
}

func (s *Service) storeReport(ctx context.Context, key cache.Key, value any) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Put(ctx, key, value); err != nil {
		log.Printf("report cache write failed: org=%s scope=%s err=%v", key.OrganizationID, key.Scope, err)
	}
}
