package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attest/api/internal/changes"
	"attest/api/internal/search"
	"attest/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "organizations":
		s.handleOrganizations(w, r, parts[2:])
	case "documents":
		s.handleDocuments(w, r, parts[2:])
	case "users":
		s.handleUsers(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/organizations/{orgID}/...
func (s *HTTPServer) handleOrganizations(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	organizationID := parts[0]

	switch {
	case parts[1] == "documents" && len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			documents, err := s.service.ListDocuments(r.Context(), organizationID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(documents))
			for _, doc := range documents {
				items = append(items, documentPayload(doc))
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var input DocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.CreateDocument(r.Context(), organizationID, requestUserID(r), input)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, updateResultPayload(result))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case parts[1] == "acknowledgments" && len(parts) == 3 && parts[2] == "pending" && r.Method == http.MethodGet:
		pending, err := s.service.GetPendingAcknowledgments(r.Context(), organizationID, r.URL.Query().Get("documentId"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if pending == nil {
			pending = []store.PendingAcknowledgment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"pending": pending})

	case parts[1] == "reports" && len(parts) == 3 && parts[2] == "compliance" && r.Method == http.MethodGet:
		report, err := s.service.GetComplianceReport(r.Context(), organizationID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	case parts[1] == "reports" && len(parts) == 3 && parts[2] == "version-analytics" && r.Method == http.MethodGet:
		analytics, err := s.service.GetAcknowledgmentVersionAnalytics(r.Context(), organizationID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, analytics)

	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		query := search.Query{
			OrganizationID: organizationID,
			Text:           strings.TrimSpace(r.URL.Query().Get("q")),
		}
		var ok bool
		if query.Limit, ok = intQuery(w, r, "limit", 20); !ok {
			return
		}
		if query.Offset, ok = intQuery(w, r, "offset", 0); !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.service.SearchDocuments(r.Context(), query))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/documents/{id}/...
func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	documentID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), documentID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, documentPayload(doc))
		case http.MethodPut:
			var input DocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.UpdateDocument(r.Context(), documentID, requestUserID(r), input)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updateResultPayload(result))
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), documentID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case parts[1] == "detect-changes" && len(parts) == 2 && r.Method == http.MethodPost:
		var input DocumentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		verdict, err := s.service.DetectChanges(r.Context(), documentID, input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, classificationPayload(verdict))

	case parts[1] == "versions":
		s.handleVersions(w, r, documentID, parts[2:])

	case parts[1] == "acknowledge" && len(parts) == 2 && r.Method == http.MethodPost:
		var input AcknowledgeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if input.IPAddress == "" {
			input.IPAddress = clientIP(r)
		}
		ack, err := s.service.AcknowledgeDocument(r.Context(), documentID, requestUserID(r), input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, acknowledgmentPayload(ack))

	case parts[1] == "acknowledgments" && len(parts) == 2 && r.Method == http.MethodGet:
		report, err := s.service.GetDocumentAcknowledgmentStatus(r.Context(), documentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	case parts[1] == "acknowledgments" && len(parts) == 3 && parts[2] == "status" && r.Method == http.MethodGet:
		userID := firstNonBlank(r.URL.Query().Get("userId"), requestUserID(r))
		status, err := s.service.GetAcknowledgmentStatus(r.Context(), documentID, userID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acknowledgmentStatusPayload(status))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/documents/{id}/versions/...
func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch {
	case len(parts) == 0:
		versions, err := s.service.GetVersionHistory(r.Context(), documentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(versions))
		for _, version := range versions {
			items = append(items, versionPayload(version))
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "versions": items})

	case len(parts) == 1 && parts[0] == "statistics":
		stats, err := s.service.GetVersionStatistics(r.Context(), documentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case len(parts) == 1 && parts[0] == "compare":
		from, ok := intQueryRequired(w, r, "from")
		if !ok {
			return
		}
		to, ok := intQueryRequired(w, r, "to")
		if !ok {
			return
		}
		comparison, err := s.service.CompareVersions(r.Context(), documentID, from, to)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comparisonPayload(comparison))

	case len(parts) == 1:
		versionNumber, err := strconv.Atoi(parts[0])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be an integer", nil)
			return
		}
		version, err := s.service.GetVersion(r.Context(), documentID, versionNumber)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, versionPayload(version))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/users/{id}/notifications
func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || parts[1] != "notifications" || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	limit, ok := intQuery(w, r, "limit", 50)
	if !ok {
		return
	}
	notifications, err := s.service.ListUserNotifications(r.Context(), parts[0], limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, notificationPayload(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// ---- payloads ----

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":                     doc.ID,
		"organizationId":         doc.OrganizationID,
		"title":                  doc.Title,
		"description":            doc.Description,
		"content":                doc.Content,
		"wordCount":              doc.WordCount,
		"estimatedReadingTime":   doc.EstimatedReadingTime,
		"folderPath":             doc.FolderPath,
		"version":                doc.Version,
		"requiresAcknowledgment": doc.RequiresAcknowledgment,
		"accessRoles":            nonNilRoles(doc.AccessRoles),
		"createdBy":              doc.CreatedBy,
		"updatedBy":              doc.UpdatedBy,
		"createdAt":              doc.CreatedAt.Format(time.RFC3339),
		"updatedAt":              doc.UpdatedAt.Format(time.RFC3339),
	}
}

func versionPayload(version store.DocumentVersion) map[string]any {
	return map[string]any{
		"id":                     version.ID,
		"documentId":             version.DocumentID,
		"versionNumber":          version.VersionNumber,
		"title":                  version.Title,
		"description":            version.Description,
		"content":                version.Content,
		"folderPath":             version.FolderPath,
		"wordCount":              version.WordCount,
		"estimatedReadingTime":   version.EstimatedReadingTime,
		"requiresAcknowledgment": version.RequiresAcknowledgment,
		"accessRoles":            nonNilRoles(version.AccessRoles),
		"changeSummary":          version.ChangeSummary,
		"changeMetadata":         version.ChangeMetadata,
		"createdBy":              version.CreatedBy,
		"createdAt":              version.CreatedAt.Format(time.RFC3339),
	}
}

func classificationPayload(verdict changes.Classification) map[string]any {
	return map[string]any{
		"hasContentChanges":        verdict.HasContentChanges,
		"hasMetadataChanges":       verdict.HasMetadataChanges,
		"hasSignificantChanges":    verdict.HasSignificantChanges,
		"requiresReacknowledgment": verdict.RequiresReacknowledgment,
		"changeSummary":            verdict.ChangeSummary,
		"metadata":                 verdict.Metadata,
	}
}

func updateResultPayload(result UpdateResult) map[string]any {
	return map[string]any{
		"document":         documentPayload(result.Document),
		"classification":   classificationPayload(result.Classification),
		"versionCreated":   result.VersionCreated,
		"newVersion":       result.NewVersion,
		"invalidatedCount": result.InvalidatedCount,
		"notifiedCount":    result.NotifiedCount,
	}
}

func comparisonPayload(comparison VersionComparison) map[string]any {
	diff := comparison.ContentDiff
	if diff == nil {
		diff = []changes.LineChange{}
	}
	return map[string]any{
		"documentId":            comparison.DocumentID,
		"fromVersion":           comparison.FromVersion,
		"toVersion":             comparison.ToVersion,
		"hasContentChanges":     comparison.HasContentChanges,
		"hasMetadataChanges":    comparison.HasMetadataChanges,
		"hasSignificantChanges": comparison.HasSignificantChanges,
		"changedFields":         comparison.ChangedFields,
		"changeSummary":         comparison.ChangeSummary,
		"contentDiff":           diff,
	}
}

func acknowledgmentPayload(ack store.Acknowledgment) map[string]any {
	payload := map[string]any{
		"id":                       ack.ID,
		"documentId":               ack.DocumentID,
		"userId":                   ack.UserID,
		"acknowledgedAt":           ack.AcknowledgedAt.Format(time.RFC3339),
		"acknowledgedVersion":      ack.AcknowledgedVersion,
		"ipAddress":                ack.IPAddress,
		"notes":                    ack.Notes,
		"requiresReacknowledgment": ack.RequiresReacknowledgment,
	}
	if ack.InvalidatedAt != nil {
		payload["invalidatedAt"] = ack.InvalidatedAt.Format(time.RFC3339)
	}
	return payload
}

func acknowledgmentStatusPayload(status AcknowledgmentStatus) map[string]any {
	payload := map[string]any{
		"documentId":        status.DocumentID,
		"userId":            status.UserID,
		"latestVersion":     status.LatestVersion,
		"acknowledgmentGap": status.AcknowledgmentGap,
		"isValid":           status.IsValid,
	}
	if status.Acknowledgment != nil {
		payload["acknowledgment"] = acknowledgmentPayload(*status.Acknowledgment)
	}
	return payload
}

func notificationPayload(n store.Notification) map[string]any {
	payload := map[string]any{
		"id":         n.ID,
		"userId":     n.UserID,
		"entityType": n.EntityType,
		"entityId":   n.EntityID,
		"title":      n.Title,
		"message":    n.Message,
		"customData": n.CustomData,
		"createdAt":  n.CreatedAt.Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		payload["readAt"] = n.ReadAt.Format(time.RFC3339)
	}
	return payload
}

func nonNilRoles(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

// ---- plumbing ----

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// requestUserID resolves the acting user. Identity arrives on a trusted
// header from the gateway; there is no session layer here.
func requestUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func intQueryRequired(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" is required", nil)
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
