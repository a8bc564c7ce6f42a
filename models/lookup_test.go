package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutcome_Classification(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		result  Result
		remarks Remarks
	}{
		{"none", nil, ResultDataNotFound, RemarksNoDataFound},
		{"empty", []Record{}, ResultDataNotFound, RemarksNoDataFound},
		{"one", []Record{{FormID: "1"}}, ResultDataFound, RemarksSingleRecord},
		{"two", []Record{{FormID: "1"}, {FormID: "2"}}, ResultDataFound, RemarksMultipleRecords},
		{"many", make([]Record, 7), ResultDataFound, RemarksMultipleRecords},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOutcome(tt.records)
			assert.Equal(t, tt.result, o.Result)
			assert.Equal(t, tt.remarks, o.Remarks)
			assert.NotNil(t, o.Records)
			assert.Empty(t, o.ErrorMessage)
		})
	}
}

func TestFailedOutcome(t *testing.T) {
	o := FailedOutcome("navigate: net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, ResultScrapeFailed, o.Result)
	assert.Equal(t, RemarksSiteUnavailable, o.Remarks)
	assert.Empty(t, o.Records)
	assert.Equal(t, "navigate: net::ERR_NAME_NOT_RESOLVED", o.ErrorMessage)
}

func TestOutcome_JSONShape(t *testing.T) {
	b, err := json.Marshal(NewOutcome(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"result":"DATA_NOT_FOUND","remarks":"NO_DATA_FOUND"}`, string(b))
}

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in      string
		want    DocumentType
		wantErr bool
	}{
		{"", DocumentNationalID, false},
		{"NATIONAL_ID", DocumentNationalID, false},
		{"national_identity_card", DocumentNationalID, false},
		{" cc ", DocumentNationalID, false},
		{"PASSPORT", DocumentPassport, false},
		{"pa", DocumentPassport, false},
		{"DRIVER_LICENSE", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDocumentType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupRequest_Normalize(t *testing.T) {
	req, err := LookupRequest{SubjectID: " 123 ", PeriodYear: "2024 ", PeriodMonth: " 3"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, LookupRequest{SubjectID: "123", PeriodYear: "2024", PeriodMonth: "3", DocumentType: DocumentNationalID}, req)

	_, err = LookupRequest{SubjectID: "  ", PeriodYear: "2024", PeriodMonth: "3"}.Normalize()
	assert.Error(t, err)

	_, err = LookupRequest{SubjectID: "1", PeriodYear: "2024", PeriodMonth: "3", DocumentType: "X"}.Normalize()
	assert.Error(t, err)
}

func TestHasCode(t *testing.T) {
	lost := NewScrapeError(ErrCodeSessionLost, "browser session lost", errors.New("EOF"))
	assert.True(t, HasCode(lost, ErrCodeSessionLost))
	assert.True(t, HasCode(fmt.Errorf("step: %w", lost), ErrCodeSessionLost))
	assert.False(t, HasCode(lost, ErrCodeQueueClosed))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeSessionLost))
	assert.False(t, HasCode(nil, ErrCodeSessionLost))

	nested := NewScrapeError(ErrCodeSessionNotReady, "not ready", fmt.Errorf("connect: %w", lost))
	assert.True(t, HasCode(nested, ErrCodeSessionLost))
}

func TestBatchJob(t *testing.T) {
	job := NewBatchJob("batch-1", 3, 0)
	assert.Equal(t, BatchProcessing, job.Snapshot().Status)

	job.Record(0, &LookupResponse{Outcome: NewOutcome(nil)})
	job.Record(2, &LookupResponse{Outcome: FailedOutcome("boom")})
	snap := job.Snapshot()
	assert.Equal(t, 2, snap.Completed)
	assert.Nil(t, snap.Results[1])

	job.Record(1, &LookupResponse{Error: &ErrorDetail{Code: ErrCodeQueueClosed}})
	assert.Equal(t, BatchPartial, job.Finish())

	all := NewBatchJob("batch-2", 1, 0)
	all.Record(0, &LookupResponse{Outcome: FailedOutcome("x")})
	assert.Equal(t, BatchFailed, all.Finish())

	ok := NewBatchJob("batch-3", 1, 0)
	ok.Record(0, &LookupResponse{Outcome: NewOutcome([]Record{{}})})
	assert.Equal(t, BatchCompleted, ok.Finish())
}
