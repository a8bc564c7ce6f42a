package models

import (
	"fmt"
	"strings"
)

// DocumentType selects which identity document the subject id belongs to.
type DocumentType string

const (
	DocumentNationalID DocumentType = "NATIONAL_ID"
	DocumentPassport   DocumentType = "PASSPORT"
)

// ParseDocumentType accepts the canonical names plus the long form used by
// older clients ("NATIONAL_IDENTITY_CARD"). Empty input means NATIONAL_ID.
func ParseDocumentType(s string) (DocumentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(DocumentNationalID), "NATIONAL_IDENTITY_CARD", "CC":
		return DocumentNationalID, nil
	case string(DocumentPassport), "PA":
		return DocumentPassport, nil
	default:
		return "", fmt.Errorf("unknown document type %q", s)
	}
}

// Result is the top-level classification of a lookup.
type Result string

const (
	ResultDataFound       Result = "DATA_FOUND"
	ResultDataNotFound    Result = "DATA_NOT_FOUND"
	ResultSubjectNotFound Result = "SUBJECT_NOT_FOUND"
	ResultScrapeFailed    Result = "SCRAPE_FAILED"
)

// Remarks qualifies a Result.
type Remarks string

const (
	RemarksSingleRecord    Remarks = "SINGLE_RECORD"
	RemarksMultipleRecords Remarks = "MULTIPLE_RECORDS"
	RemarksSiteUnavailable Remarks = "SITE_UNAVAILABLE"
	RemarksNoDataFound     Remarks = "NO_DATA_FOUND"
)

// LookupRequest identifies one query against the payment-form site.
// It is passed by value and never mutated once submitted.
type LookupRequest struct {
	SubjectID    string       `json:"id" form:"id" binding:"required"`
	PeriodYear   string       `json:"year" form:"year" binding:"required,numeric,len=4"`
	PeriodMonth  string       `json:"month" form:"month" binding:"required,numeric,min=1,max=2"`
	DocumentType DocumentType `json:"type,omitempty" form:"type"`
}

// Normalize trims the fields and applies the default document type.
func (r LookupRequest) Normalize() (LookupRequest, error) {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.PeriodYear = strings.TrimSpace(r.PeriodYear)
	r.PeriodMonth = strings.TrimSpace(r.PeriodMonth)
	dt, err := ParseDocumentType(string(r.DocumentType))
	if err != nil {
		return r, err
	}
	r.DocumentType = dt
	if r.SubjectID == "" || r.PeriodYear == "" || r.PeriodMonth == "" {
		return r, fmt.Errorf("id, year and month are required")
	}
	return r, nil
}

// Record is one row of the results table.
type Record struct {
	FormID         string `json:"form_id"`
	FormType       string `json:"form_type"`
	AmountOriginal string `json:"amount_original"`

	// Amount is AmountOriginal in the smallest currency unit (cents).
	// Zero when the text could not be interpreted.
	Amount int64  `json:"amount"`
	Status string `json:"status"`
	Period string `json:"period"`
}

// Outcome is the classified result of one lookup.
//
// Result and Remarks are derived from the record count or the failure stage;
// build outcomes with NewOutcome, FailedOutcome or SubjectNotFoundOutcome.
type Outcome struct {
	Records      []Record `json:"data"`
	Result       Result   `json:"result"`
	Remarks      Remarks  `json:"remarks"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// NewOutcome classifies a successfully extracted table.
func NewOutcome(records []Record) *Outcome {
	if records == nil {
		records = []Record{}
	}
	o := &Outcome{Records: records}
	switch len(records) {
	case 0:
		o.Result, o.Remarks = ResultDataNotFound, RemarksNoDataFound
	case 1:
		o.Result, o.Remarks = ResultDataFound, RemarksSingleRecord
	default:
		o.Result, o.Remarks = ResultDataFound, RemarksMultipleRecords
	}
	return o
}

// FailedOutcome reports that the site could not be driven to the results stage.
func FailedOutcome(message string) *Outcome {
	return &Outcome{
		Records:      []Record{},
		Result:       ResultScrapeFailed,
		Remarks:      RemarksSiteUnavailable,
		ErrorMessage: message,
	}
}

// SubjectNotFoundOutcome reports that the site rejected the subject id.
func SubjectNotFoundOutcome() *Outcome {
	return &Outcome{
		Records: []Record{},
		Result:  ResultSubjectNotFound,
		Remarks: RemarksNoDataFound,
	}
}

// LookupQuery is a LookupRequest as received over HTTP, plus cache control.
type LookupQuery struct {
	LookupRequest

	// MaxAge allows serving a cached outcome younger than this many
	// milliseconds. Zero disables the cache for this request.
	MaxAge int `json:"max_age,omitempty" form:"max_age" binding:"omitempty,min=0"`
}
