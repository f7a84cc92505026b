package models

import "strings"

// ImportType identifies the kind of file being ingested.
type ImportType string

const (
	ImportTypeFundingSummary        ImportType = "FUNDING_SUMMARY"
	ImportTypeOccupancyReport       ImportType = "OCCUPANCY_REPORT"
	ImportTypeSupplementaryData     ImportType = "SUPPLEMENTARY_DATA"
	ImportTypeProviderAllocation    ImportType = "PROVIDER_ALLOCATION"
	ImportTypeDataValidationIssues  ImportType = "DATA_VALIDATION_ISSUES"
	ImportTypeGLAFSR                ImportType = "GLA_FSR"
	ImportTypeGLAOCC                ImportType = "GLA_OCC"
	ImportTypeILRCodeValues         ImportType = "ILR_CODE_VALUES"
	ImportTypeRefDataMapping        ImportType = "REF_DATA_MAPPING"
	ImportTypeHealthProblemCategory ImportType = "HEALTH_PROBLEM_CATEGORY"
)

// FilenameTokens describes which date tokens a filename must carry.
type FilenameTokens int

const (
	TokensNone       FilenameTokens = iota // no year or period in the name
	TokensYear                             // "<name> YYYY.csv"
	TokensYearPeriod                       // "<name> YYYY MM.csv"
)

// ImportTypeInfo holds the static behaviour flags of an import type.
type ImportTypeInfo struct {
	Type          ImportType
	Description   string
	CanSendToOPS  bool
	Yearly        bool
	Monthly       bool
	Deletable     bool
	ClearPrevious bool
	Tokens        FilenameTokens
	// RequiresRows marks types that replace a whole scope, so an upload with
	// no accepted rows is treated as a failure.
	RequiresRows bool
	// Checkpointed imports commit every N rows instead of once per file.
	Checkpointed bool
	// SplitByUKPRN imports store per-provider copies of the file instead of facts.
	SplitByUKPRN bool
}

var importTypes = []ImportTypeInfo{
	{Type: ImportTypeFundingSummary, Description: "Funding Summary", CanSendToOPS: true, Yearly: true, Monthly: true, Tokens: TokensYearPeriod, RequiresRows: true},
	{Type: ImportTypeOccupancyReport, Description: "Occupancy Report", Yearly: true, Monthly: true, Tokens: TokensYearPeriod, RequiresRows: true, Checkpointed: true},
	{Type: ImportTypeSupplementaryData, Description: "Supplemental Data", Yearly: true, Monthly: true, Tokens: TokensYearPeriod},
	{Type: ImportTypeProviderAllocation, Description: "Provider Allocations", Yearly: true, Tokens: TokensNone, RequiresRows: true},
	{Type: ImportTypeDataValidationIssues, Description: "Data Validation Issues", Yearly: true, Monthly: true, Deletable: true, Tokens: TokensYearPeriod, SplitByUKPRN: true},
	{Type: ImportTypeGLAFSR, Description: "GLA FSR", Yearly: true, Monthly: true, Deletable: true, ClearPrevious: true, Tokens: TokensYearPeriod, SplitByUKPRN: true},
	{Type: ImportTypeGLAOCC, Description: "GLA OCC", Yearly: true, Monthly: true, Deletable: true, ClearPrevious: true, Tokens: TokensYearPeriod, SplitByUKPRN: true},
	{Type: ImportTypeILRCodeValues, Description: "ILR Code Values", Yearly: true, Tokens: TokensYear, RequiresRows: true},
	{Type: ImportTypeRefDataMapping, Description: "Ref Data Mapping", Tokens: TokensNone},
	{Type: ImportTypeHealthProblemCategory, Description: "Health Problem Category", Tokens: TokensNone},
}

// AllImportTypes returns every known import type in declaration order.
func AllImportTypes() []ImportType {
	types := make([]ImportType, len(importTypes))
	for i, info := range importTypes {
		types[i] = info.Type
	}
	return types
}

// Info returns the behaviour flags for the type. Unknown types return a zero value.
func (t ImportType) Info() ImportTypeInfo {
	for _, info := range importTypes {
		if info.Type == t {
			return info
		}
	}
	return ImportTypeInfo{}
}

func (t ImportType) IsValid() bool {
	return t.Info().Type != ""
}

func (t ImportType) Description() string {
	return t.Info().Description
}

// ShouldClearPreviousData reports whether earlier imports for the same
// year and period are purged before this type is uploaded.
func (t ImportType) ShouldClearPreviousData() bool {
	info := t.Info()
	return info.Deletable && info.ClearPrevious && info.Yearly && info.Monthly
}

// ParseImportType accepts either the constant name or the description.
func ParseImportType(s string) (ImportType, bool) {
	s = strings.TrimSpace(s)
	for _, info := range importTypes {
		if strings.EqualFold(string(info.Type), s) || strings.EqualFold(info.Description, s) {
			return info.Type, true
		}
	}
	return "", false
}
