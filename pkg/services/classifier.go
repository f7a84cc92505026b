package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gla-ilr/ilr-engine/pkg/apperrors"
	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// Fixed names of the data initialiser uploads.
const (
	RefDataMappingFileName        = "Data Initialiser - Ref Data Mapping.csv"
	HealthProblemCategoryFileName = "Data Initialiser - Health Problem Category.csv"
)

const csvExtension = ".csv"

// filenamePatterns are matched in order against the name without its extension.
var filenamePatterns = []struct {
	importType models.ImportType
	pattern    *regexp.Regexp
}{
	{models.ImportTypeFundingSummary, regexp.MustCompile(`^Funding Summary Report`)},
	{models.ImportTypeOccupancyReport, regexp.MustCompile(`^Occupancy [rR]eport`)},
	{models.ImportTypeSupplementaryData, regexp.MustCompile(`Supp [dD]ata`)},
	{models.ImportTypeProviderAllocation, regexp.MustCompile(`^[pP]rovider [aA]llocation`)},
	{models.ImportTypeDataValidationIssues, regexp.MustCompile(`^[dD]ata [vV]alidation [iI]ssues`)},
	{models.ImportTypeILRCodeValues, regexp.MustCompile(`^ILR [cC]ode [vV]alue`)},
	{models.ImportTypeGLAFSR, regexp.MustCompile(`^GLA FSR`)},
	{models.ImportTypeGLAOCC, regexp.MustCompile(`^GLA OCC`)},
}

var (
	yearPeriodSuffix = regexp.MustCompile(` (\d{4}) (\d{2})$`)
	yearSuffix       = regexp.MustCompile(` (\d{4})( \d{2})?$`)
)

const (
	minFilenameYear = 1900
	maxFilenameYear = 3000
	minPeriod       = 1
	maxPeriod       = 14
)

// ClassifyFilename works out the import type, academic year and period of an
// upload from its name alone.
func ClassifyFilename(name string) (*models.Classification, error) {
	if !strings.HasSuffix(strings.ToLower(name), csvExtension) {
		return nil, &apperrors.FilenameError{FileName: name, Reason: apperrors.ErrNotCSV.Error(), Err: apperrors.ErrNotCSV}
	}

	importType, ok := importTypeForFilename(name)
	if !ok {
		return nil, &apperrors.FilenameError{
			FileName: name,
			Reason:   fmt.Sprintf("Unable to identify file type by filename: %s", name),
			Err:      apperrors.ErrUnrecognizedFileType,
		}
	}

	return classifyTokens(name, importType)
}

// ValidateFilenameForType checks a name submitted with an explicit import type.
// The name must classify to that same type.
func ValidateFilenameForType(name string, importType models.ImportType) (*models.Classification, error) {
	if !importType.IsValid() {
		return nil, &apperrors.FilenameError{
			FileName: name,
			Reason:   fmt.Sprintf("Unknown import type: %s", importType),
			Err:      apperrors.ErrUnrecognizedFileType,
		}
	}

	c, err := ClassifyFilename(name)
	if err != nil {
		return nil, err
	}
	if c.ImportType != importType {
		return nil, &apperrors.FilenameError{
			FileName: name,
			Reason: fmt.Sprintf("File %s does not match the expected format for %s files",
				name, importType.Description()),
			Err: apperrors.ErrInvalidFilenameFormat,
		}
	}
	return c, nil
}

func importTypeForFilename(name string) (models.ImportType, bool) {
	switch name {
	case RefDataMappingFileName:
		return models.ImportTypeRefDataMapping, true
	case HealthProblemCategoryFileName:
		return models.ImportTypeHealthProblemCategory, true
	}

	base := name[:len(name)-len(csvExtension)]
	for _, p := range filenamePatterns {
		if p.pattern.MatchString(base) {
			return p.importType, true
		}
	}
	return "", false
}

func classifyTokens(name string, importType models.ImportType) (*models.Classification, error) {
	c := &models.Classification{ImportType: importType}
	base := name[:len(name)-len(csvExtension)]

	switch importType.Info().Tokens {
	case models.TokensNone:
		return c, nil

	case models.TokensYear:
		m := yearSuffix.FindStringSubmatch(base)
		if m == nil {
			return nil, invalidFilename(name, importType, "YYYY")
		}
		year, _ := strconv.Atoi(m[1])
		if year < minFilenameYear || year > maxFilenameYear {
			return nil, invalidFilename(name, importType, "YYYY")
		}
		c.AcademicYear = &year
		return c, nil

	default:
		m := yearPeriodSuffix.FindStringSubmatch(base)
		if m == nil {
			return nil, invalidFilename(name, importType, "YYYY MM")
		}
		year, _ := strconv.Atoi(m[1])
		period, _ := strconv.Atoi(m[2])
		if year < minFilenameYear || year > maxFilenameYear || period < minPeriod || period > maxPeriod {
			return nil, invalidFilename(name, importType, "YYYY MM")
		}
		c.AcademicYear = &year
		c.Period = &period
		return c, nil
	}
}

func invalidFilename(name string, importType models.ImportType, tokens string) error {
	reason := fmt.Sprintf("Upload failed: %s file name must end with \"%s.csv\"", importType.Description(), tokens)
	if strings.HasSuffix(tokens, "MM") {
		reason += fmt.Sprintf(" where MM is a period between %02d and %02d", minPeriod, maxPeriod)
	}
	return &apperrors.FilenameError{
		FileName: name,
		Reason:   reason + ", received " + name,
		Err:      apperrors.ErrInvalidFilenameFormat,
	}
}
