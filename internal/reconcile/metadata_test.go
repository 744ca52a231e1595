package reconcile

import (
	"encoding/json"
	"testing"

	"fulfillment-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobUUID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"

func TestExtractMetadata_JobID(t *testing.T) {
	tests := []struct {
		name       string
		payment    model.Payment
		wantJobID  string
		wantSource JobIDSource
	}{
		{
			name:       "known note key",
			payment:    model.Payment{Notes: model.Notes{"job_id": jobUUID}},
			wantJobID:  jobUUID,
			wantSource: JobIDFromNoteKey,
		},
		{
			name:       "known note key keeps case",
			payment:    model.Payment{Notes: model.Notes{"JobId": "3FA85F64-5717-4562-B3FC-2C963F66AFA6"}},
			wantJobID:  "3FA85F64-5717-4562-B3FC-2C963F66AFA6",
			wantSource: JobIDFromNoteKey,
		},
		{
			name:       "key precedence follows alias order",
			payment:    model.Payment{Notes: model.Notes{"job": "second", "job_id": "first"}},
			wantJobID:  "first",
			wantSource: JobIDFromNoteKey,
		},
		{
			name:       "blank key value falls through",
			payment:    model.Payment{Notes: model.Notes{"job_id": "  ", "JOB": "real"}},
			wantJobID:  "real",
			wantSource: JobIDFromNoteKey,
		},
		{
			name:       "uuid in another note value",
			payment:    model.Payment{Notes: model.Notes{"ref": "book " + jobUUID}},
			wantJobID:  jobUUID,
			wantSource: JobIDFromNoteValue,
		},
		{
			name:       "uuid in description",
			payment:    model.Payment{Description: "order for " + jobUUID + " storybook"},
			wantJobID:  jobUUID,
			wantSource: JobIDFromDescription,
		},
		{
			name:       "description text fallback",
			payment:    model.Payment{Description: " custom-job-42 "},
			wantJobID:  "custom-job-42",
			wantSource: JobIDFromDescriptionText,
		},
		{
			name:       "invalid version nibble is not a uuid",
			payment:    model.Payment{Notes: model.Notes{"ref": "3fa85f64-5717-9562-b3fc-2c963f66afa6"}},
			wantJobID:  "",
			wantSource: "",
		},
		{
			name:    "nothing",
			payment: model.Payment{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ExtractMetadata(tt.payment)
			assert.Equal(t, tt.wantJobID, m.JobID)
			assert.Equal(t, tt.wantSource, m.JobIDSource)
		})
	}
}

func TestExtractMetadata_PreviewDiscountEmail(t *testing.T) {
	m := ExtractMetadata(model.Payment{
		Email: "",
		Notes: model.Notes{
			"previewUrl":    "https://example.com/p/1",
			"DiscountCode":  "special10",
			"email":         "parent@example.com",
			"discount_code": "",
		},
	})

	assert.Equal(t, "https://example.com/p/1", m.PreviewURL)
	assert.Equal(t, "SPECIAL10", m.DiscountCode)
	assert.Equal(t, "parent@example.com", m.Email)

	m = ExtractMetadata(model.Payment{Email: "payer@example.com", Notes: model.Notes{"email": "other@example.com"}})
	assert.Equal(t, "payer@example.com", m.Email)
	assert.Empty(t, m.PreviewURL)
	assert.Empty(t, m.DiscountCode)
}

func TestNotes_UnmarshalJSON(t *testing.T) {
	var p model.Payment
	require.NoError(t, json.Unmarshal([]byte(`{"id":"pay_1","notes":[]}`), &p))
	assert.Empty(t, p.Notes)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"pay_1","notes":{"job_id":"x","qty":2,"gift":true}}`), &p))
	assert.Equal(t, model.Notes{"job_id": "x", "qty": "2", "gift": "true"}, p.Notes)

	assert.Error(t, json.Unmarshal([]byte(`{"notes":"oops"}`), &p))
}
