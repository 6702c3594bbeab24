// Package changes classifies edits to a document against its last recorded
// version and decides whether existing acknowledgments survive the edit.
package changes

import "math"

// Snapshot holds the document fields the detector compares. It is either the
// last stored version of a document or the proposed new state of one.
type Snapshot struct {
	Title                  string
	Description            string
	Content                string
	FolderPath             string
	RequiresAcknowledgment bool
	AccessRoles            []string
}

// Metadata is the raw change record persisted alongside each version.
type Metadata struct {
	Fields             map[string]bool `json:"fields"`
	ContentLengthDelta int             `json:"content_length_delta"`
	PreviousVersion    int             `json:"previous_version,omitempty"`
}

// Classification is the detector's verdict for one proposed edit.
type Classification struct {
	HasContentChanges        bool
	HasMetadataChanges       bool
	HasSignificantChanges    bool
	ChangeSummary            string
	Metadata                 Metadata
	RequiresReacknowledgment bool
}

// Field keys used in Metadata.Fields and for summary phrases. The order of
// summaryOrder fixes the phrase order in ChangeSummary.
const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldContent     = "content"
	fieldFolderPath  = "folder_path"
	fieldRequiresAck = "requires_acknowledgment"
	fieldAccessRoles = "access_roles"
)

var summaryOrder = []string{
	fieldTitle,
	fieldDescription,
	fieldContent,
	fieldFolderPath,
	fieldRequiresAck,
	fieldAccessRoles,
}

var summaryPhrases = map[string]string{
	fieldTitle:       "title updated",
	fieldDescription: "description updated",
	fieldContent:     "content modified",
	fieldFolderPath:  "location changed",
	fieldRequiresAck: "acknowledgment requirement changed",
	fieldAccessRoles: "access permissions updated",
}

// reackContentThreshold is the fraction of the previous content length that an
// absolute length delta must strictly exceed to invalidate acknowledgments.
// The boundary is strict: a delta of exactly 10% does not trigger.
const reackContentThreshold = 0.10

// Detect compares a document's last stored version against its proposed new
// state. prev is nil when no version exists yet; that case is always
// classified as the initial version, significant but invalidating nothing.
// prevVersion is the version number of prev and is ignored when prev is nil.
func Detect(prev *Snapshot, prevVersion int, next Snapshot) Classification {
	if prev == nil {
		return Classification{
			HasContentChanges:     true,
			HasMetadataChanges:    true,
			HasSignificantChanges: true,
			ChangeSummary:         "Initial version",
			Metadata: Metadata{
				Fields: map[string]bool{
					fieldTitle:       true,
					fieldDescription: true,
					fieldContent:     true,
					fieldFolderPath:  true,
					fieldRequiresAck: next.RequiresAcknowledgment,
					fieldAccessRoles: len(next.AccessRoles) > 0,
				},
				ContentLengthDelta: len(next.Content),
			},
			RequiresReacknowledgment: false,
		}
	}

	fields := map[string]bool{
		fieldTitle:       prev.Title != next.Title,
		fieldDescription: prev.Description != next.Description,
		fieldContent:     prev.Content != next.Content,
		fieldFolderPath:  prev.FolderPath != next.FolderPath,
		fieldRequiresAck: prev.RequiresAcknowledgment != next.RequiresAcknowledgment,
		fieldAccessRoles: !sameRoleSet(prev.AccessRoles, next.AccessRoles),
	}

	contentChanged := fields[fieldContent]
	metadataChanged := fields[fieldTitle] || fields[fieldDescription] ||
		fields[fieldFolderPath] || fields[fieldRequiresAck] || fields[fieldAccessRoles]

	return Classification{
		HasContentChanges:     contentChanged,
		HasMetadataChanges:    metadataChanged,
		HasSignificantChanges: contentChanged || metadataChanged,
		ChangeSummary:         buildSummary(fields),
		Metadata: Metadata{
			Fields:             fields,
			ContentLengthDelta: len(next.Content) - len(prev.Content),
			PreviousVersion:    prevVersion,
		},
		RequiresReacknowledgment: requiresReacknowledgment(prev, next, fields),
	}
}

// requiresReacknowledgment reproduces the acknowledgment-invalidation policy:
//  1. requires_acknowledgment toggled on invalidates unconditionally;
//  2. a content edit whose absolute length delta exceeds 10% of the previous
//     content length invalidates;
//  3. an access-role change that makes the document strictly more restrictive
//     invalidates;
//  4. everything else leaves acknowledgments valid.
func requiresReacknowledgment(prev *Snapshot, next Snapshot, fields map[string]bool) bool {
	if !prev.RequiresAcknowledgment && next.RequiresAcknowledgment {
		return true
	}
	if fields[fieldContent] {
		delta := math.Abs(float64(len(next.Content) - len(prev.Content)))
		if delta > float64(len(prev.Content))*reackContentThreshold {
			return true
		}
	}
	if fields[fieldAccessRoles] && moreRestrictive(prev.AccessRoles, next.AccessRoles) {
		return true
	}
	return false
}

// moreRestrictive reports whether newRoles grants access to strictly fewer
// members than oldRoles: either the document goes from open-to-all (empty set)
// to restricted, or the new set is a non-empty proper subset of the old one.
func moreRestrictive(oldRoles, newRoles []string) bool {
	oldSet := roleSet(oldRoles)
	newSet := roleSet(newRoles)
	if len(oldSet) == 0 {
		return len(newSet) > 0
	}
	if len(newSet) == 0 || len(newSet) >= len(oldSet) {
		return false
	}
	for role := range newSet {
		if _, ok := oldSet[role]; !ok {
			return false
		}
	}
	return true
}

func sameRoleSet(a, b []string) bool {
	setA := roleSet(a)
	setB := roleSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for role := range setA {
		if _, ok := setB[role]; !ok {
			return false
		}
	}
	return true
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

// buildSummary joins the phrases for every changed field category, separating
// the last pair with " and " ("title updated, content modified and access
// permissions updated"). No changed fields yields "Minor updates".
func buildSummary(fields map[string]bool) string {
	var phrases []string
	for _, field := range summaryOrder {
		if fields[field] {
			phrases = append(phrases, summaryPhrases[field])
		}
	}
	switch len(phrases) {
	case 0:
		return "Minor updates"
	case 1:
		return phrases[0]
	}
	summary := phrases[0]
	for i := 1; i < len(phrases)-1; i++ {
		summary += ", " + phrases[i]
	}
	return summary + " and " + phrases[len(phrases)-1]
}
