// Package ops provides a client for pushing funding summaries to OPS.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// DefaultTimeout is the maximum time to wait for an OPS response.
const DefaultTimeout = 30 * time.Second

// FundingRecord is one funding summary line as OPS accepts it.
type FundingRecord struct {
	UKPRN        int         `json:"ukprn"`
	AcademicYear int         `json:"academicYear"`
	Period       int         `json:"period"`
	ActualYear   int         `json:"actualYear"`
	ActualMonth  int         `json:"actualMonth"`
	GrantType    string      `json:"grantType"`
	FundingLine  string      `json:"fundingLine"`
	Source       string      `json:"source"`
	Category     string      `json:"category"`
	MonthTotal   json.Number `json:"monthTotal,omitempty"`
	TotalPayment json.Number `json:"totalPayment,omitempty"`
}

// NewFundingRecords converts stored funding summary lines to the OPS form.
// Identical lines are sent once.
func NewFundingRecords(records []*models.FundingSummaryRecord) []FundingRecord {
	out := make([]FundingRecord, 0, len(records))
	seen := make(map[FundingRecord]bool, len(records))
	for _, r := range records {
		fr := FundingRecord{
			UKPRN:        r.UKPRN,
			AcademicYear: r.AcademicYear,
			Period:       r.Period,
			ActualYear:   r.ActualYear,
			ActualMonth:  r.ActualMonth,
			GrantType:    r.GrantType,
			FundingLine:  r.FundingLine,
			Source:       r.Source,
			Category:     r.Category,
		}
		if r.MonthTotal != nil {
			fr.MonthTotal = json.Number(r.MonthTotal.String())
		}
		if r.TotalPayment != nil {
			fr.TotalPayment = json.Number(r.TotalPayment.String())
		}
		if seen[fr] {
			continue
		}
		seen[fr] = true
		out = append(out, fr)
	}
	return out
}

// Error is a non-2xx response from OPS. Description comes from the
// response body when OPS sent one.
type Error struct {
	StatusCode  int
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("OPS returned status %d: %s", e.StatusCode, e.Description)
}

// Config locates OPS and the credentials used to call it.
type Config struct {
	BaseURL            string
	FundingSummaryPath string
	Username           string
	Password           string
	Timeout            time.Duration
}

// Client provides access to the OPS API.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// NewClient creates a new OPS client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cfg:    cfg,
		logger: logger.Named("ops"),
	}
}

// PushFundingSummary posts the funding summary of one academic year and
// period to OPS.
func (c *Client) PushFundingSummary(ctx context.Context, year, period int, records []FundingRecord) error {
	endpoint, err := buildURL(c.cfg.BaseURL, c.cfg.FundingSummaryPath, url.Values{
		"academicYear": {strconv.Itoa(year)},
		"period":       {strconv.Itoa(period)},
	})
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode funding records: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	c.logger.Info("Pushing funding summary to OPS",
		zap.String("url", endpoint),
		zap.Int("academic_year", year),
		zap.Int("period", period),
		zap.Int("records", len(records)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call OPS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("OPS returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return &Error{StatusCode: resp.StatusCode, Description: describe(resp.StatusCode, body)}
	}
	return nil
}

// describe extracts the description of an OPS error body, falling back to
// the raw body and then the status text.
func describe(status int, body []byte) string {
	// Error body format: { "description": "..." }
	var apiErr struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Description != "" {
		return apiErr.Description
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// buildURL joins p onto the base URL's path and sets the query.
func buildURL(baseURL, p string, query url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL: %q is not absolute", baseURL)
	}
	u.Path = path.Join("/", u.Path, p)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
