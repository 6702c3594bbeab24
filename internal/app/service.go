package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"attest/api/internal/cache"
	"attest/api/internal/changes"
	"attest/api/internal/notify"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

// wordsPerMinute is the reading speed used to derive the estimated reading
// time when the caller does not supply one.
const wordsPerMinute = 200

type DocumentInput struct {
	Title                  string   `json:"title"`
	Description            string   `json:"description"`
	Content                string   `json:"content"`
	FolderPath             string   `json:"folderPath"`
	RequiresAcknowledgment bool     `json:"requiresAcknowledgment"`
	AccessRoles            []string `json:"accessRoles"`
	WordCount              int      `json:"wordCount"`
	EstimatedReadingTime   int      `json:"estimatedReadingTime"`
}

type AcknowledgeInput struct {
	IPAddress string `json:"ipAddress"`
	Notes     string `json:"notes"`
}

// UpdateResult is what a create or update leaves behind: the committed
// document state, the detector verdict, and the cascade counts.
type UpdateResult struct {
	Document         store.Document
	Classification   changes.Classification
	VersionCreated   bool
	NewVersion       int
	InvalidatedCount int
	NotifiedCount    int
}

// VersionComparison relates two stored versions of one document.
type VersionComparison struct {
	DocumentID            string
	FromVersion           int
	ToVersion             int
	HasContentChanges     bool
	HasMetadataChanges    bool
	HasSignificantChanges bool
	ChangedFields         map[string]bool
	ChangeSummary         string
	ContentDiff           []changes.LineChange
}

// AcknowledgmentStatus is one user's standing against a document.
type AcknowledgmentStatus struct {
	DocumentID        string
	UserID            string
	LatestVersion     int
	Acknowledgment    *store.Acknowledgment
	AcknowledgmentGap int
	IsValid           bool
}

type dataStore interface {
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	UpdateDocument(context.Context, store.Document, int) (bool, error)
	DeleteDocument(context.Context, string) (bool, error)
	InsertDocumentVersion(context.Context, store.DocumentVersion) error
	ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error)
	GetDocumentVersion(context.Context, string, int) (store.DocumentVersion, error)
	LatestVersionNumber(context.Context, string) (int, error)
	VersionAggregates(context.Context, string) (store.VersionStatistics, error)
	FindAcknowledgment(context.Context, string, string) (*store.Acknowledgment, error)
	UpsertAcknowledgment(context.Context, store.Acknowledgment) (store.Acknowledgment, error)
	InvalidateAcknowledgments(context.Context, string) ([]string, error)
	ListPendingAcknowledgments(context.Context, string, string) ([]store.PendingAcknowledgment, error)
	GetMember(context.Context, string, string) (store.Member, error)
	ActiveMemberCount(context.Context, string) (int, error)
	DocumentAcknowledgmentRows(context.Context, string, string) ([]store.MemberAcknowledgment, error)
	ComplianceCounts(context.Context, string) (store.ComplianceCounts, error)
	VersionAnalyticsCounts(context.Context, string) (store.VersionAnalyticsCounts, error)
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	Ping(ctx context.Context) error
}

type notifier interface {
	Create(context.Context, notify.Input) error
}

type reportCache interface {
	Get(ctx context.Context, k cache.Key, target any) (cache.Result, error)
	Put(ctx context.Context, k cache.Key, value any) error
	Invalidate(ctx context.Context, organizationID string, scopes ...string) error
	FallbackToStale() bool
}

type Service struct {
	store    dataStore
	notifier notifier
	reports  reportCache
	search   *search.Service
}

func New(dataStore *store.PostgresStore, notifications *notify.Service, reports *cache.Redis, searchService *search.Service) *Service {
	s := &Service{
		store:  dataStore,
		search: searchService,
	}
	if notifications != nil {
		s.notifier = notifications
	}
	if reports != nil {
		s.reports = reports
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- documents ----

func (s *Service) CreateDocument(ctx context.Context, organizationID, userID string, input DocumentInput) (UpdateResult, error) {
	if strings.TrimSpace(organizationID) == "" {
		return UpdateResult{}, validationError("organization id is required", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return UpdateResult{}, validationError("title is required", nil)
	}

	doc := store.Document{
		ID:             util.NewID("doc"),
		OrganizationID: organizationID,
		FolderPath:     "/",
		CreatedBy:      userID,
		UpdatedBy:      userID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return UpdateResult{}, fmt.Errorf("insert document: %w", err)
	}

	// Creation runs through the same pipeline as every later edit, so the
	// fresh document immediately carries version 1 and its snapshot.
	return s.applyUpdate(ctx, doc, userID, input)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFoundError("document not found")
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, organizationID string) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, organizationID)
}

func (s *Service) UpdateDocument(ctx context.Context, documentID, userID string, input DocumentInput) (UpdateResult, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return UpdateResult{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return UpdateResult{}, validationError("title is required", nil)
	}
	return s.applyUpdate(ctx, doc, userID, input)
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !deleted {
		return notFoundError("document not found")
	}
	s.invalidateReports(ctx, doc.OrganizationID)
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

// DetectChanges classifies a proposed edit without persisting anything.
func (s *Service) DetectChanges(ctx context.Context, documentID string, input DocumentInput) (changes.Classification, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return changes.Classification{}, err
	}
	normalizeInput(&input)
	prev, err := s.previousSnapshot(ctx, doc)
	if err != nil {
		return changes.Classification{}, err
	}
	return changes.Detect(prev, doc.Version, snapshotFromInput(input)), nil
}

// applyUpdate is the single write path for document state. The version
// snapshot commits first; once it exists the edit is recorded even if a
// later step fails, and those failures are logged with enough context to
// reconcile by hand.
func (s *Service) applyUpdate(ctx context.Context, doc store.Document, userID string, input DocumentInput) (UpdateResult, error) {
	normalizeInput(&input)

	prev, err := s.previousSnapshot(ctx, doc)
	if err != nil {
		return UpdateResult{}, err
	}
	verdict := changes.Detect(prev, doc.Version, snapshotFromInput(input))
	result := UpdateResult{Document: doc, Classification: verdict}
	if !verdict.HasSignificantChanges {
		return result, nil
	}

	targetVersion := doc.Version + 1
	version := store.DocumentVersion{
		ID:                     util.NewID("ver"),
		DocumentID:             doc.ID,
		VersionNumber:          targetVersion,
		Title:                  input.Title,
		Description:            input.Description,
		Content:                input.Content,
		FolderPath:             input.FolderPath,
		WordCount:              input.WordCount,
		EstimatedReadingTime:   input.EstimatedReadingTime,
		RequiresAcknowledgment: input.RequiresAcknowledgment,
		AccessRoles:            input.AccessRoles,
		ChangeSummary:          verdict.ChangeSummary,
		ChangeMetadata:         verdict.Metadata,
		CreatedBy:              userID,
	}
	if err := s.store.InsertDocumentVersion(ctx, version); err != nil {
		if errors.Is(err, store.ErrVersionExists) {
			return UpdateResult{}, conflictError("document was updated concurrently")
		}
		return UpdateResult{}, fmt.Errorf("insert document version: %w", err)
	}

	updated := doc
	updated.Title = input.Title
	updated.Description = input.Description
	updated.Content = input.Content
	updated.FolderPath = input.FolderPath
	updated.WordCount = input.WordCount
	updated.EstimatedReadingTime = input.EstimatedReadingTime
	updated.RequiresAcknowledgment = input.RequiresAcknowledgment
	updated.AccessRoles = input.AccessRoles
	updated.Version = targetVersion
	updated.UpdatedBy = userID

	committed, err := s.store.UpdateDocument(ctx, updated, doc.Version)
	if err != nil {
		log.Printf("document update failed after version commit: document=%s version=%d step=update_document err=%v",
			doc.ID, targetVersion, err)
		return UpdateResult{}, storageError("document update failed after version was recorded", err)
	}
	if !committed {
		log.Printf("document update lost version race after snapshot commit: document=%s version=%d step=update_document",
			doc.ID, targetVersion)
		return UpdateResult{}, conflictError("document was updated concurrently")
	}

	result.Document = updated
	result.VersionCreated = true
	result.NewVersion = targetVersion

	if verdict.RequiresReacknowledgment {
		invalidated, notified, err := s.runInvalidationCascade(ctx, updated, verdict)
		if err != nil {
			return UpdateResult{}, err
		}
		result.InvalidatedCount = invalidated
		result.NotifiedCount = notified
	}

	s.invalidateReports(ctx, updated.OrganizationID)
	if s.search != nil {
		s.search.IndexDocument(searchRecord(updated))
	}
	return result, nil
}

// runInvalidationCascade flips every valid acknowledgment for the document
// and notifies the affected users. A failed notification never unwinds the
// invalidation; it is logged per user and the cascade moves on.
func (s *Service) runInvalidationCascade(ctx context.Context, doc store.Document, verdict changes.Classification) (invalidated, notified int, err error) {
	userIDs, err := s.store.InvalidateAcknowledgments(ctx, doc.ID)
	if err != nil {
		log.Printf("acknowledgment invalidation failed after version commit: document=%s version=%d step=invalidate err=%v",
			doc.ID, doc.Version, err)
		return 0, 0, storageError("acknowledgment invalidation failed after version was recorded", err)
	}
	if s.notifier == nil {
		return len(userIDs), 0, nil
	}

	for _, userID := range userIDs {
		input := notify.Input{
			UserID:     userID,
			EntityType: "document",
			EntityID:   doc.ID,
			Title:      doc.Title,
			Message:    "This document has changed and requires your acknowledgment again.",
			CustomData: map[string]any{
				"change_summary": verdict.ChangeSummary,
				"version":        doc.Version,
			},
		}
		member, memberErr := s.store.GetMember(ctx, doc.OrganizationID, userID)
		if memberErr == nil {
			input.UserEmail = member.Email
			input.UserName = member.DisplayName
		} else if !errors.Is(memberErr, sql.ErrNoRows) {
			log.Printf("member lookup failed during invalidation cascade: document=%s user=%s err=%v",
				doc.ID, userID, memberErr)
		}
		if notifyErr := s.notifier.Create(ctx, input); notifyErr != nil {
			log.Printf("re-acknowledgment notification failed: document=%s user=%s err=%v",
				doc.ID, userID, notifyErr)
			continue
		}
		notified++
	}
	return len(userIDs), notified, nil
}

// previousSnapshot loads the comparison baseline for a document: nil before
// the first version, otherwise the stored snapshot matching the document's
// current version number. A missing snapshot row falls back to the document
// row itself rather than reclassifying the edit as an initial version.
func (s *Service) previousSnapshot(ctx context.Context, doc store.Document) (*changes.Snapshot, error) {
	if doc.Version == 0 {
		return nil, nil
	}
	version, err := s.store.GetDocumentVersion(ctx, doc.ID, doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		snap := snapshotFromDocument(doc)
		return &snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document version: %w", err)
	}
	snap := snapshotFromVersion(version)
	return &snap, nil
}

// ---- versions ----

func (s *Service) GetVersionHistory(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListDocumentVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, documentID string, versionNumber int) (store.DocumentVersion, error) {
	version, err := s.store.GetDocumentVersion(ctx, documentID, versionNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentVersion{}, notFoundError("document version not found")
	}
	if err != nil {
		return store.DocumentVersion{}, fmt.Errorf("get document version: %w", err)
	}
	return version, nil
}

// CompareVersions relates two snapshots of the same document. Comparing a
// version with itself is allowed and reports no changes.
func (s *Service) CompareVersions(ctx context.Context, documentID string, fromVersion, toVersion int) (VersionComparison, error) {
	from, err := s.GetVersion(ctx, documentID, fromVersion)
	if err != nil {
		return VersionComparison{}, err
	}
	to, err := s.GetVersion(ctx, documentID, toVersion)
	if err != nil {
		return VersionComparison{}, err
	}

	fromSnap := snapshotFromVersion(from)
	verdict := changes.Detect(&fromSnap, fromVersion, snapshotFromVersion(to))

	comparison := VersionComparison{
		DocumentID:            documentID,
		FromVersion:           fromVersion,
		ToVersion:             toVersion,
		HasContentChanges:     verdict.HasContentChanges,
		HasMetadataChanges:    verdict.HasMetadataChanges,
		HasSignificantChanges: verdict.HasSignificantChanges,
		ChangedFields:         verdict.Metadata.Fields,
		ChangeSummary:         verdict.ChangeSummary,
	}
	if verdict.HasContentChanges {
		comparison.ContentDiff = changes.DiffLines(from.Content, to.Content)
	}
	return comparison, nil
}

// GetVersionStatistics aggregates a document's history. Version frequency is
// versions per day over the span between the first and last version, with
// the span floored at one day; fewer than two versions report zero.
func (s *Service) GetVersionStatistics(ctx context.Context, documentID string) (store.VersionStatistics, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return store.VersionStatistics{}, err
	}
	stats, err := s.store.VersionAggregates(ctx, documentID)
	if err != nil {
		return store.VersionStatistics{}, fmt.Errorf("version aggregates: %w", err)
	}
	if stats.TotalVersions >= 2 && stats.FirstVersionAt != nil && stats.LastVersionAt != nil {
		days := int(stats.LastVersionAt.Sub(*stats.FirstVersionAt).Hours() / 24)
		if days < 1 {
			days = 1
		}
		stats.VersionFrequency = float64(stats.TotalVersions) / float64(days)
	}
	return stats, nil
}

// ---- acknowledgments ----

func (s *Service) AcknowledgeDocument(ctx context.Context, documentID, userID string, input AcknowledgeInput) (store.Acknowledgment, error) {
	if strings.TrimSpace(userID) == "" {
		return store.Acknowledgment{}, validationError("user id is required", nil)
	}
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return store.Acknowledgment{}, err
	}

	existing, err := s.store.FindAcknowledgment(ctx, documentID, userID)
	if err != nil {
		return store.Acknowledgment{}, fmt.Errorf("find acknowledgment: %w", err)
	}
	if existing != nil && !existing.RequiresReacknowledgment {
		return store.Acknowledgment{}, alreadyAcknowledgedError()
	}

	saved, err := s.store.UpsertAcknowledgment(ctx, store.Acknowledgment{
		ID:                  util.NewID("ack"),
		DocumentID:          documentID,
		UserID:              userID,
		AcknowledgedVersion: doc.Version,
		IPAddress:           input.IPAddress,
		Notes:               input.Notes,
	})
	if err != nil {
		return store.Acknowledgment{}, fmt.Errorf("upsert acknowledgment: %w", err)
	}

	s.invalidateReports(ctx, doc.OrganizationID)
	return saved, nil
}

func (s *Service) GetAcknowledgmentStatus(ctx context.Context, documentID, userID string) (AcknowledgmentStatus, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return AcknowledgmentStatus{}, err
	}
	latest, err := s.store.LatestVersionNumber(ctx, documentID)
	if err != nil {
		return AcknowledgmentStatus{}, fmt.Errorf("latest version number: %w", err)
	}

	status := AcknowledgmentStatus{
		DocumentID:    documentID,
		UserID:        userID,
		LatestVersion: latest,
	}
	ack, err := s.store.FindAcknowledgment(ctx, documentID, userID)
	if err != nil {
		return AcknowledgmentStatus{}, fmt.Errorf("find acknowledgment: %w", err)
	}
	if ack == nil {
		status.AcknowledgmentGap = latest
		return status, nil
	}
	status.Acknowledgment = ack
	status.IsValid = !ack.RequiresReacknowledgment
	// The raw difference. Versions only grow, so a negative gap means the
	// stored data drifted; surfacing it beats masking it with a clamp.
	status.AcknowledgmentGap = latest - ack.AcknowledgedVersion
	return status, nil
}

func (s *Service) GetPendingAcknowledgments(ctx context.Context, organizationID, documentID string) ([]store.PendingAcknowledgment, error) {
	pending, err := s.store.ListPendingAcknowledgments(ctx, organizationID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pending acknowledgments: %w", err)
	}
	return pending, nil
}

// ---- notifications & search ----

func (s *Service) ListUserNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *Service) SearchDocuments(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// ---- helpers ----

func (s *Service) invalidateReports(ctx context.Context, organizationID string) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Invalidate(ctx, organizationID); err != nil {
		log.Printf("report cache invalidation failed: org=%s err=%v", organizationID, err)
	}
}

func normalizeInput(input *DocumentInput) {
	input.Title = strings.TrimSpace(input.Title)
	if strings.TrimSpace(input.FolderPath) == "" {
		input.FolderPath = "/"
	}
	if input.WordCount <= 0 {
		input.WordCount = len(strings.Fields(input.Content))
	}
	if input.EstimatedReadingTime <= 0 {
		minutes := (input.WordCount + wordsPerMinute - 1) / wordsPerMinute
		if minutes < 1 {
			minutes = 1
		}
		input.EstimatedReadingTime = minutes
	}
}

func snapshotFromInput(input DocumentInput) changes.Snapshot {
	return changes.Snapshot{
		Title:                  input.Title,
		Description:            input.Description,
		Content:                input.Content,
		FolderPath:             input.FolderPath,
		RequiresAcknowledgment: input.RequiresAcknowledgment,
		AccessRoles:            input.AccessRoles,
	}
}

func snapshotFromVersion(version store.DocumentVersion) changes.Snapshot {
	return changes.Snapshot{
		Title:                  version.Title,
		Description:            version.Description,
		Content:                version.Content,
		FolderPath:             version.FolderPath,
		RequiresAcknowledgment: version.RequiresAcknowledgment,
		AccessRoles:            version.AccessRoles,
	}
}

func snapshotFromDocument(doc store.Document) changes.Snapshot {
	return changes.Snapshot{
		Title:                  doc.Title,
		Description:            doc.Description,
		Content:                doc.Content,
		FolderPath:             doc.FolderPath,
		RequiresAcknowledgment: doc.RequiresAcknowledgment,
		AccessRoles:            doc.AccessRoles,
	}
}

func searchRecord(doc store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		Title:          doc.Title,
		Description:    doc.Description,
		Content:        doc.Content,
		FolderPath:     doc.FolderPath,
	}
}
