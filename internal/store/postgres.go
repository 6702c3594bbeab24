package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionExists is returned when inserting a (document_id, version_number)
// pair that already has a snapshot. Version history is never overwritten.
var ErrVersionExists = errors.New("document version already exists")

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- documents ----

const documentColumns = `
	id, organization_id, title, description, content, word_count,
	estimated_reading_time, folder_path, version, requires_acknowledgment,
	COALESCE(access_roles::text, '[]'), created_by, updated_by, created_at, updated_at
`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	var roles []byte
	err := row.Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Title,
		&item.Description,
		&item.Content,
		&item.WordCount,
		&item.EstimatedReadingTime,
		&item.FolderPath,
		&item.Version,
		&item.RequiresAcknowledgment,
		&roles,
		&item.CreatedBy,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	_ = json.Unmarshal(roles, &item.AccessRoles)
	return item, nil
}

func encodeRoles(roles []string) string {
	if roles == nil {
		roles = []string{}
	}
	encoded, _ := json.Marshal(roles)
	return string(encoded)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, organization_id, title, description, content, word_count,
			estimated_reading_time, folder_path, version, requires_acknowledgment,
			access_roles, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $12)
	`,
		item.ID, item.OrganizationID, item.Title, item.Description, item.Content,
		item.WordCount, item.EstimatedReadingTime, item.FolderPath, item.Version,
		item.RequiresAcknowledgment, encodeRoles(item.AccessRoles), item.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1
	`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, organizationID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE organization_id=$1
		ORDER BY updated_at DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocument writes the document's new state with an optimistic version
// check: the row is only updated while its version still equals
// expectedVersion. Returns false when a concurrent edit got there first.
func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document, expectedVersion int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$3, description=$4, content=$5, word_count=$6,
			estimated_reading_time=$7, folder_path=$8, version=$9,
			requires_acknowledgment=$10, access_roles=$11::jsonb,
			updated_by=$12, updated_at=NOW()
		WHERE id=$1 AND version=$2
	`,
		item.ID, expectedVersion, item.Title, item.Description, item.Content,
		item.WordCount, item.EstimatedReadingTime, item.FolderPath, item.Version,
		item.RequiresAcknowledgment, encodeRoles(item.AccessRoles), item.UpdatedBy,
	)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteDocument removes a document; versions and acknowledgments go with it
// through the cascading foreign keys. Returns false when no row matched.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document rows: %w", err)
	}
	return affected > 0, nil
}

// ---- document versions ----

const versionColumns = `
	id, document_id, version_number, title, description, content, folder_path,
	word_count, estimated_reading_time, requires_acknowledgment,
	COALESCE(access_roles::text, '[]'), change_summary,
	COALESCE(change_metadata::text, '{}'), created_by, created_at
`

func scanVersion(row interface{ Scan(...any) error }) (DocumentVersion, error) {
	var item DocumentVersion
	var roles, metadata []byte
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.VersionNumber,
		&item.Title,
		&item.Description,
		&item.Content,
		&item.FolderPath,
		&item.WordCount,
		&item.EstimatedReadingTime,
		&item.RequiresAcknowledgment,
		&roles,
		&item.ChangeSummary,
		&metadata,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return DocumentVersion{}, err
	}
	_ = json.Unmarshal(roles, &item.AccessRoles)
	_ = json.Unmarshal(metadata, &item.ChangeMetadata)
	return item, nil
}

// InsertDocumentVersion persists an immutable snapshot. A duplicate
// (document_id, version_number) pair yields ErrVersionExists.
func (s *PostgresStore) InsertDocumentVersion(ctx context.Context, item DocumentVersion) error {
	metadata, err := json.Marshal(item.ChangeMetadata)
	if err != nil {
		return fmt.Errorf("marshal change metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, version_number, title, description,
			content, folder_path, word_count, estimated_reading_time,
			requires_acknowledgment, access_roles, change_summary, change_metadata, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13::jsonb, $14)
	`,
		item.ID, item.DocumentID, item.VersionNumber, item.Title, item.Description,
		item.Content, item.FolderPath, item.WordCount, item.EstimatedReadingTime,
		item.RequiresAcknowledgment, encodeRoles(item.AccessRoles), item.ChangeSummary,
		string(metadata), item.CreatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrVersionExists
		}
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocumentVersion(ctx context.Context, documentID string, versionNumber int) (DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1 AND version_number=$2
	`, documentID, versionNumber)
	return scanVersion(row)
}

func (s *PostgresStore) LatestVersionNumber(ctx context.Context, documentID string) (int, error) {
	var latest int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0)
		FROM document_versions
		WHERE document_id=$1
	`, documentID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version number: %w", err)
	}
	return latest, nil
}

// VersionAggregates returns version count, first/last timestamps, and the
// distinct contributor count. Frequency is derived in the service layer.
func (s *PostgresStore) VersionAggregates(ctx context.Context, documentID string) (VersionStatistics, error) {
	var stats VersionStatistics
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at), COUNT(DISTINCT created_by)
		FROM document_versions
		WHERE document_id=$1
	`, documentID).Scan(
		&stats.TotalVersions,
		&stats.FirstVersionAt,
		&stats.LastVersionAt,
		&stats.DistinctContributors,
	)
	if err != nil {
		return VersionStatistics{}, fmt.Errorf("version aggregates: %w", err)
	}
	return stats, nil
}

// ---- acknowledgments ----

const acknowledgmentColumns = `
	id, document_id, user_id, acknowledged_at, acknowledged_version,
	ip_address, notes, requires_reacknowledgment, invalidated_at
`

func scanAcknowledgment(row interface{ Scan(...any) error }) (Acknowledgment, error) {
	var item Acknowledgment
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.UserID,
		&item.AcknowledgedAt,
		&item.AcknowledgedVersion,
		&item.IPAddress,
		&item.Notes,
		&item.RequiresReacknowledgment,
		&item.InvalidatedAt,
	)
	return item, err
}

// FindAcknowledgment returns the at-most-one record for the pair, or nil.
func (s *PostgresStore) FindAcknowledgment(ctx context.Context, documentID, userID string) (*Acknowledgment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+acknowledgmentColumns+`
		FROM acknowledgments
		WHERE document_id=$1 AND user_id=$2
	`, documentID, userID)
	item, err := scanAcknowledgment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find acknowledgment: %w", err)
	}
	return &item, nil
}

// UpsertAcknowledgment creates or renews the record for a pair as one atomic
// statement guarded by the (document_id, user_id) unique constraint. Renewal
// resets the validity flags and bumps the acknowledged version.
func (s *PostgresStore) UpsertAcknowledgment(ctx context.Context, item Acknowledgment) (Acknowledgment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO acknowledgments (id, document_id, user_id, acknowledged_version, ip_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, user_id) DO UPDATE SET
			acknowledged_at=NOW(),
			acknowledged_version=EXCLUDED.acknowledged_version,
			ip_address=EXCLUDED.ip_address,
			notes=EXCLUDED.notes,
			requires_reacknowledgment=FALSE,
			invalidated_at=NULL
		RETURNING `+acknowledgmentColumns+`
	`, item.ID, item.DocumentID, item.UserID, item.AcknowledgedVersion, item.IPAddress, item.Notes)
	saved, err := scanAcknowledgment(row)
	if err != nil {
		return Acknowledgment{}, fmt.Errorf("upsert acknowledgment: %w", err)
	}
	return saved, nil
}

// InvalidateAcknowledgments flips every currently-valid acknowledgment for
// the document to stale and returns the affected user ids. Zero rows means
// nobody had acknowledged yet.
func (s *PostgresStore) InvalidateAcknowledgments(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE acknowledgments
		SET requires_reacknowledgment=TRUE, invalidated_at=NOW()
		WHERE document_id=$1 AND requires_reacknowledgment=FALSE
		RETURNING user_id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("invalidate acknowledgments: %w", err)
	}
	defer rows.Close()

	userIDs := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan invalidated user: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invalidated users: %w", err)
	}
	return userIDs, nil
}

// ListPendingAcknowledgments returns every (user, document) pair still
// requiring re-acknowledgment in the organization, most recently invalidated
// first. documentID narrows to one document when non-empty.
func (s *PostgresStore) ListPendingAcknowledgments(ctx context.Context, organizationID, documentID string) ([]PendingAcknowledgment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.document_id, d.title, a.user_id, COALESCE(m.display_name, a.user_id),
			a.acknowledged_version, a.invalidated_at,
			COALESCE((
				SELECT v.change_summary
				FROM document_versions v
				WHERE v.document_id = d.id
				ORDER BY v.version_number DESC
				LIMIT 1
			), '')
		FROM acknowledgments a
		JOIN documents d ON d.id = a.document_id
		LEFT JOIN organization_members m
			ON m.organization_id = d.organization_id AND m.user_id = a.user_id
		WHERE d.organization_id=$1
		  AND a.requires_reacknowledgment
		  AND ($2='' OR a.document_id=$2)
		ORDER BY a.invalidated_at DESC NULLS LAST
	`, organizationID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pending acknowledgments: %w", err)
	}
	defer rows.Close()

	items := make([]PendingAcknowledgment, 0)
	for rows.Next() {
		var item PendingAcknowledgment
		if err := rows.Scan(
			&item.DocumentID,
			&item.DocumentTitle,
			&item.UserID,
			&item.UserName,
			&item.AcknowledgedVersion,
			&item.InvalidatedAt,
			&item.ChangeSummary,
		); err != nil {
			return nil, fmt.Errorf("scan pending acknowledgment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending acknowledgments: %w", err)
	}
	return items, nil
}

// ---- members ----

func (s *PostgresStore) GetMember(ctx context.Context, organizationID, userID string) (Member, error) {
	var item Member
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, organization_id, display_name, email, role, active, joined_at
		FROM organization_members
		WHERE organization_id=$1 AND user_id=$2
	`, organizationID, userID).Scan(
		&item.UserID, &item.OrganizationID, &item.DisplayName,
		&item.Email, &item.Role, &item.Active, &item.JoinedAt,
	)
	if err != nil {
		return Member{}, err
	}
	return item, nil
}

func (s *PostgresStore) ActiveMemberCount(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members WHERE organization_id=$1 AND active
	`, organizationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return count, nil
}

// ---- analytics ----

// DocumentAcknowledgmentRows joins every active organization member with
// their acknowledgment of the document, acknowledged or not.
func (s *PostgresStore) DocumentAcknowledgmentRows(ctx context.Context, organizationID, documentID string) ([]MemberAcknowledgment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, m.display_name, m.email,
			a.acknowledged_at, COALESCE(a.acknowledged_version, 0),
			COALESCE(a.ip_address, ''),
			COALESCE(NOT a.requires_reacknowledgment, FALSE)
		FROM organization_members m
		LEFT JOIN acknowledgments a ON a.document_id=$2 AND a.user_id=m.user_id
		WHERE m.organization_id=$1 AND m.active
		ORDER BY m.display_name ASC
	`, organizationID, documentID)
	if err != nil {
		return nil, fmt.Errorf("document acknowledgment rows: %w", err)
	}
	defer rows.Close()

	items := make([]MemberAcknowledgment, 0)
	for rows.Next() {
		var item MemberAcknowledgment
		if err := rows.Scan(
			&item.UserID,
			&item.DisplayName,
			&item.Email,
			&item.AcknowledgedAt,
			&item.AcknowledgedVersion,
			&item.IPAddress,
			&item.IsValid,
		); err != nil {
			return nil, fmt.Errorf("scan acknowledgment row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acknowledgment rows: %w", err)
	}
	return items, nil
}

// ComplianceCounts gathers the raw counts for an organization compliance
// report: how many documents require acknowledgment, how many members are
// active, and how many valid acknowledgments exist against those documents.
func (s *PostgresStore) ComplianceCounts(ctx context.Context, organizationID string) (ComplianceCounts, error) {
	var counts ComplianceCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents
				WHERE organization_id=$1 AND requires_acknowledgment),
			(SELECT COUNT(*) FROM organization_members
				WHERE organization_id=$1 AND active),
			(SELECT COUNT(*) FROM acknowledgments a
				JOIN documents d ON d.id = a.document_id
				WHERE d.organization_id=$1 AND d.requires_acknowledgment
				  AND NOT a.requires_reacknowledgment)
	`, organizationID).Scan(
		&counts.DocumentsRequiringAck,
		&counts.ActiveMembers,
		&counts.ValidAcknowledgments,
	)
	if err != nil {
		return ComplianceCounts{}, fmt.Errorf("compliance counts: %w", err)
	}
	return counts, nil
}

// VersionAnalyticsCounts gathers acknowledgment validity and version
// currency counts plus the average acknowledgment lag for an organization.
func (s *PostgresStore) VersionAnalyticsCounts(ctx context.Context, organizationID string) (VersionAnalyticsCounts, error) {
	var counts VersionAnalyticsCounts
	var averageLag sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(a.id),
			COUNT(a.id) FILTER (WHERE NOT a.requires_reacknowledgment),
			(SELECT COUNT(DISTINCT d2.id) FROM documents d2
				JOIN acknowledgments a2 ON a2.document_id = d2.id
				WHERE d2.organization_id=$1 AND d2.requires_acknowledgment
				  AND NOT a2.requires_reacknowledgment
				  AND a2.acknowledged_version = d2.version),
			(SELECT COUNT(*) FROM documents
				WHERE organization_id=$1 AND requires_acknowledgment),
			AVG(d.version - a.acknowledged_version)
		FROM acknowledgments a
		JOIN documents d ON d.id = a.document_id
		WHERE d.organization_id=$1
	`, organizationID).Scan(
		&counts.TotalAcknowledgments,
		&counts.ValidAcknowledgments,
		&counts.UpToDateDocuments,
		&counts.DocumentsRequiringAck,
		&averageLag,
	)
	if err != nil {
		return VersionAnalyticsCounts{}, fmt.Errorf("version analytics counts: %w", err)
	}
	counts.AverageLag = averageLag.Float64
	return counts, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	customData := item.CustomData
	if customData == nil {
		customData = map[string]any{}
	}
	encoded, err := json.Marshal(customData)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, entity_type, entity_id, title, message, custom_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, item.ID, item.UserID, item.EntityType, item.EntityID, item.Title, item.Message, string(encoded))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entity_type, entity_id, title, message,
			COALESCE(custom_data::text, '{}'), created_at, read_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var customData []byte
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.EntityType,
			&item.EntityID,
			&item.Title,
			&item.Message,
			&customData,
			&item.CreatedAt,
			&item.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		_ = json.Unmarshal(customData, &item.CustomData)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}
