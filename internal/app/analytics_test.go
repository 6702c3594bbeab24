package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"attest/api/internal/cache"
	"attest/api/internal/store"
)

func TestComplianceReportEmptyOrganization(t *testing.T) {
	ms := newMemStore()
	service, _ := newTestService(ms)

	report, err := service.GetComplianceReport(context.Background(), "org-empty")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.ComplianceRate != 100 {
		t.Errorf("rate = %f, want 100 when nothing requires acknowledgment", report.ComplianceRate)
	}
	if report.PendingAcknowledgments != 0 {
		t.Errorf("pending = %d, want 0", report.PendingAcknowledgments)
	}
}

func TestComplianceReportRates(t *testing.T) {
	ms := newMemStore()
	ms.complianceCountsFn = func(context.Context, string) (store.ComplianceCounts, error) {
		return store.ComplianceCounts{
			DocumentsRequiringAck: 2,
			ActiveMembers:         5,
			ValidAcknowledgments:  7,
		}, nil
	}
	service, _ := newTestService(ms)

	report, err := service.GetComplianceReport(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.ExpectedAcknowledgments != 10 {
		t.Errorf("expected = %d, want 10", report.ExpectedAcknowledgments)
	}
	if report.PendingAcknowledgments != 3 {
		t.Errorf("pending = %d, want 3", report.PendingAcknowledgments)
	}
	if report.ComplianceRate != 70 {
		t.Errorf("rate = %f, want 70", report.ComplianceRate)
	}
}

func TestComplianceReportServedFromFreshCache(t *testing.T) {
	ms := newMemStore()
	ms.complianceCountsFn = func(context.Context, string) (store.ComplianceCounts, error) {
		t.Fatal("store must not be hit on a fresh cache entry")
		return store.ComplianceCounts{}, nil
	}
	reports := newFakeReportCache()
	service, _ := newTestService(ms)
	service.reports = reports

	key := cache.Key{OrganizationID: "org-1", Scope: scopeComplianceReport}
	if err := reports.Put(context.Background(), key, ComplianceReport{OrganizationID: "org-1", ComplianceRate: 42}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	report, err := service.GetComplianceReport(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.ComplianceRate != 42 {
		t.Errorf("rate = %f, want cached 42", report.ComplianceRate)
	}
}

func TestComplianceReportStaleFallback(t *testing.T) {
	ms := newMemStore()
	ms.complianceCountsFn = func(context.Context, string) (store.ComplianceCounts, error) {
		return store.ComplianceCounts{}, errors.New("connection refused")
	}
	reports := newFakeReportCache()
	reports.fallback = true
	service, _ := newTestService(ms)
	service.reports = reports

	key := cache.Key{OrganizationID: "org-1", Scope: scopeComplianceReport}
	if err := reports.Put(context.Background(), key, ComplianceReport{OrganizationID: "org-1", ComplianceRate: 85}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	reports.stale[key] = true

	report, err := service.GetComplianceReport(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if report.ComplianceRate != 85 {
		t.Errorf("rate = %f, want stale 85", report.ComplianceRate)
	}
}

func TestComplianceReportStaleWithoutFallbackFails(t *testing.T) {
	ms := newMemStore()
	ms.complianceCountsFn = func(context.Context, string) (store.ComplianceCounts, error) {
		return store.ComplianceCounts{}, errors.New("connection refused")
	}
	reports := newFakeReportCache()
	service, _ := newTestService(ms)
	service.reports = reports

	key := cache.Key{OrganizationID: "org-1", Scope: scopeComplianceReport}
	_ = reports.Put(context.Background(), key, ComplianceReport{ComplianceRate: 85})
	reports.stale[key] = true

	if _, err := service.GetComplianceReport(context.Background(), "org-1"); err == nil {
		t.Fatal("expected error when stale fallback is disabled")
	}
}

func TestVersionAnalyticsEmptyOrganization(t *testing.T) {
	ms := newMemStore()
	service, _ := newTestService(ms)

	analytics, err := service.GetAcknowledgmentVersionAnalytics(context.Background(), "org-empty")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if analytics.AcknowledgmentValidityRate != 100 {
		t.Errorf("validity rate = %f, want 100", analytics.AcknowledgmentValidityRate)
	}
	if analytics.VersionComplianceRate != 100 {
		t.Errorf("version compliance rate = %f, want 100", analytics.VersionComplianceRate)
	}
}

func TestVersionAnalyticsRates(t *testing.T) {
	ms := newMemStore()
	ms.versionAnalyticsFn = func(context.Context, string) (store.VersionAnalyticsCounts, error) {
		return store.VersionAnalyticsCounts{
			TotalAcknowledgments:  8,
			ValidAcknowledgments:  6,
			UpToDateDocuments:     3,
			DocumentsRequiringAck: 4,
			AverageLag:            1.5,
		}, nil
	}
	service, _ := newTestService(ms)

	analytics, err := service.GetAcknowledgmentVersionAnalytics(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if analytics.AcknowledgmentValidityRate != 75 {
		t.Errorf("validity rate = %f, want 75", analytics.AcknowledgmentValidityRate)
	}
	if analytics.VersionComplianceRate != 75 {
		t.Errorf("version compliance rate = %f, want 75", analytics.VersionComplianceRate)
	}
	if analytics.AverageAcknowledgmentLag != 1.5 {
		t.Errorf("lag = %f, want 1.5", analytics.AverageAcknowledgmentLag)
	}
}

func TestDocumentAcknowledgmentReportRate(t *testing.T) {
	ms := newMemStore()
	seedMember(ms, "org-1", "reader-1", "reader1@example.com")
	seedMember(ms, "org-1", "reader-2", "reader2@example.com")
	service, _ := newTestService(ms)

	created, _ := service.CreateDocument(context.Background(), "org-1", "author", baseInput())
	docID := created.Document.ID
	if _, err := service.AcknowledgeDocument(context.Background(), docID, "reader-1", AcknowledgeInput{}); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	report, err := service.GetDocumentAcknowledgmentStatus(context.Background(), docID)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.TotalRequired != 2 {
		t.Errorf("required = %d, want 2", report.TotalRequired)
	}
	if report.TotalAcknowledged != 1 {
		t.Errorf("acknowledged = %d, want 1", report.TotalAcknowledged)
	}
	if report.AcknowledgmentRate != 0.5 {
		t.Errorf("rate = %f, want the fraction 0.5", report.AcknowledgmentRate)
	}
	if len(report.Members) != 2 {
		t.Errorf("members = %d, want every active member listed", len(report.Members))
	}
}

func TestDocumentAcknowledgmentReportNoMembers(t *testing.T) {
	ms := newMemStore()
	service, _ := newTestService(ms)

	created, _ := service.CreateDocument(context.Background(), "org-1", "author", baseInput())
	report, err := service.GetDocumentAcknowledgmentStatus(context.Background(), created.Document.ID)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.AcknowledgmentRate != 0 {
		t.Errorf("rate = %f, want 0 with no members", report.AcknowledgmentRate)
	}
}

func TestWritesInvalidateReportCache(t *testing.T) {
	ms := newMemStore()
	reports := newFakeReportCache()
	service, _ := newTestService(ms)
	service.reports = reports

	created, err := service.CreateDocument(context.Background(), "org-1", "author", baseInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(reports.invalidations) == 0 || reports.invalidations[0] != "org-1" {
		t.Fatalf("document creation should invalidate org reports, got %v", reports.invalidations)
	}

	before := len(reports.invalidations)
	if _, err := service.AcknowledgeDocument(context.Background(), created.Document.ID, "reader-1", AcknowledgeInput{}); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if len(reports.invalidations) != before+1 {
		t.Errorf("acknowledgment should invalidate org reports")
	}
}

func TestInvalidationFailureSurfacesStorageError(t *testing.T) {
	ms := newMemStore()
	ms.invalidateFn = func(context.Context, string) ([]string, error) {
		return nil, errors.New("connection reset")
	}
	service, _ := newTestService(ms)

	created, _ := service.CreateDocument(context.Background(), "org-1", "author", baseInput())
	docID := created.Document.ID

	input := baseInput()
	input.Content = input.Content + strings.Repeat("Entirely new section with new duties.\n", 4)
	_, err := service.UpdateDocument(context.Background(), docID, "author", input)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STORAGE_ERROR" {
		t.Fatalf("expected STORAGE_ERROR, got %v", err)
	}

	// The version itself committed before the cascade failed.
	latest, _ := ms.LatestVersionNumber(context.Background(), docID)
	if latest != 2 {
		t.Errorf("latest version = %d, want 2", latest)
	}
}
