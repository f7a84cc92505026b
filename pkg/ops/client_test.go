package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:            url + "/ops",
		FundingSummaryPath: "/api/v1/skills/fundingSummary",
		Username:           "ilr",
		Password:           "secret",
	}, zap.NewNop())
}

func TestClient_PushFundingSummary(t *testing.T) {
	var (
		gotPath, gotQuery, gotUser, gotPass string
		gotBody                             []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, _ = r.BasicAuth()
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	total := decimal.RequireFromString("1234.50")
	records := NewFundingRecords([]*models.FundingSummaryRecord{{
		AcademicYear: 2020, Period: 3, ActualYear: 2020, ActualMonth: 10, UKPRN: 10001234,
		FundingLine: "AEB - non-procured", Source: "ILR", Category: "Learning", GrantType: models.GrantTypeAEBGrant,
		TotalPayment: &total,
	}})

	err := newTestClient(server.URL).PushFundingSummary(context.Background(), 2020, 3, records)
	require.NoError(t, err)

	assert.Equal(t, "/ops/api/v1/skills/fundingSummary", gotPath)
	assert.Equal(t, "academicYear=2020&period=3", gotQuery)
	assert.Equal(t, "ilr", gotUser)
	assert.Equal(t, "secret", gotPass)
	require.Len(t, gotBody, 1)
	assert.Equal(t, float64(10001234), gotBody[0]["ukprn"])
	assert.Equal(t, "AEB_GRANT", gotBody[0]["grantType"])
	assert.Equal(t, 1234.5, gotBody[0]["totalPayment"])
	assert.NotContains(t, gotBody[0], "monthTotal")
}

func TestClient_PushFundingSummaryErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantDesc string
	}{
		{"description", http.StatusBadRequest, `{"description":"Period 3 is locked"}`, "Period 3 is locked"},
		{"plain body", http.StatusConflict, "already exported\n", "already exported"},
		{"empty body", http.StatusBadGateway, "", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestClient(server.URL).PushFundingSummary(context.Background(), 2020, 3, nil)

			var opsErr *Error
			require.True(t, errors.As(err, &opsErr))
			assert.Equal(t, tt.status, opsErr.StatusCode)
			assert.Equal(t, tt.wantDesc, opsErr.Description)
		})
	}
}

func TestClient_RejectsRelativeBaseURL(t *testing.T) {
	c := NewClient(Config{BaseURL: "ops.local", FundingSummaryPath: "/x"}, zap.NewNop())

	err := c.PushFundingSummary(context.Background(), 2020, 3, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not absolute")
}

func TestNewFundingRecords_DropsDuplicates(t *testing.T) {
	month := decimal.RequireFromString("10.00")
	line := func() *models.FundingSummaryRecord {
		return &models.FundingSummaryRecord{AcademicYear: 2020, Period: 3, UKPRN: 1, FundingLine: "AEB - procured", MonthTotal: &month}
	}

	records := NewFundingRecords([]*models.FundingSummaryRecord{line(), line()})

	require.Len(t, records, 1)
	assert.Equal(t, json.Number("10"), records[0].MonthTotal)
}
