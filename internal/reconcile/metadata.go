package reconcile

import (
	"regexp"
	"sort"
	"strings"

	"fulfillment-service/internal/model"
)

var uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}\b`)

var (
	jobIDNoteKeys        = []string{"job_id", "JobId", "JOB_ID", "job", "Job", "JOB"}
	previewURLNoteKeys   = []string{"preview_url", "preview", "previewUrl", "PREVIEW_URL"}
	discountCodeNoteKeys = []string{"discount_code", "DiscountCode", "DISCOUNT_CODE"}
)

type JobIDSource string

const (
	JobIDFromNoteKey     JobIDSource = "note_key"
	JobIDFromNoteValue   JobIDSource = "note_value"
	JobIDFromDescription JobIDSource = "description_uuid"
	// JobIDFromDescriptionText is a best-effort guess; the order lookup may miss.
	JobIDFromDescriptionText JobIDSource = "description_text"
)

type Metadata struct {
	JobID        string
	JobIDSource  JobIDSource
	PreviewURL   string
	DiscountCode string
	Email        string
}

// ExtractMetadata resolves the job id, preview URL and discount code a payment
// was created with. Empty strings mean "not found".
func ExtractMetadata(p model.Payment) Metadata {
	var m Metadata

	m.JobID, m.JobIDSource = extractJobID(p)
	m.PreviewURL = firstNote(p.Notes, previewURLNoteKeys)
	m.DiscountCode = strings.ToUpper(firstNote(p.Notes, discountCodeNoteKeys))

	m.Email = strings.TrimSpace(p.Email)
	if m.Email == "" {
		m.Email = firstNote(p.Notes, []string{"email"})
	}

	return m
}

func extractJobID(p model.Payment) (string, JobIDSource) {
	if v := firstNote(p.Notes, jobIDNoteKeys); v != "" {
		return v, JobIDFromNoteKey
	}

	// Sorted keys keep the scan deterministic; two notes carrying different
	// UUIDs are not expected.
	keys := make([]string, 0, len(p.Notes))
	for k := range p.Notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if id := uuidPattern.FindString(p.Notes[k]); id != "" {
			return id, JobIDFromNoteValue
		}
	}

	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		return "", ""
	}
	if id := uuidPattern.FindString(desc); id != "" {
		return id, JobIDFromDescription
	}
	return desc, JobIDFromDescriptionText
}

func firstNote(notes model.Notes, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(notes[k]); v != "" {
			return v
		}
	}
	return ""
}
