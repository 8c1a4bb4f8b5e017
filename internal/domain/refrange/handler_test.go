package refrange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService(newMockRepo())
	h := NewHandler(svc)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"), e.Group("/fhir"))
	return h, e
}

func doRequest(e *echo.Echo, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListParameters(t *testing.T) {
	_, e := newTestHandler()

	rec := doRequest(e, http.MethodGet, "/api/v1/parameters?species=cat", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var params []ParameterDescriptor
	json.Unmarshal(rec.Body.Bytes(), &params)
	for _, p := range params {
		if p.Key == KeyLVIDdN {
			t.Error("expected feline parameters without LVIDdN")
		}
	}

	if rec := doRequest(e, http.MethodGet, "/api/v1/parameters?species=horse", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown species, got %d", rec.Code)
	}
}

func TestGetTable_Paginated(t *testing.T) {
	_, e := newTestHandler()

	rec := doRequest(e, http.MethodGet, "/api/v1/reference-tables/dog?_count=5&_offset=10", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Species   Species     `json:"species"`
		Source    TableSource `json:"source"`
		Columns   []string    `json:"columns"`
		MinWeight float64     `json:"min_weight"`
		MaxWeight float64     `json:"max_weight"`
		Rows      struct {
			Data    []rowDTO `json:"data"`
			Total   int      `json:"total"`
			HasMore bool     `json:"has_more"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Species != Canine || resp.Source != SourceDefault {
		t.Errorf("unexpected table metadata: %s %s", resp.Species, resp.Source)
	}
	if resp.Rows.Total != 80 || len(resp.Rows.Data) != 5 || !resp.Rows.HasMore {
		t.Errorf("unexpected page: total=%d len=%d more=%v", resp.Rows.Total, len(resp.Rows.Data), resp.Rows.HasMore)
	}
	if resp.MinWeight != 1 || resp.MaxWeight != 80 {
		t.Errorf("expected weight axis [1, 80], got [%v, %v]", resp.MinWeight, resp.MaxWeight)
	}
	if resp.Rows.Data[0].Weight != 11 {
		t.Errorf("expected page to start at 11 kg, got %v", resp.Rows.Data[0].Weight)
	}

	if rec := doRequest(e, http.MethodGet, "/api/v1/reference-tables/horse", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetRange(t *testing.T) {
	_, e := newTestHandler()

	tests := []struct {
		name      string
		query     string
		status    int
		available bool
	}{
		{"tabular", "parameter=LVIDd&weight=10", http.StatusOK, true},
		{"fixed", "parameter=FS&weight=10", http.StatusOK, false},
		{"zero weight", "parameter=LVIDd&weight=0", http.StatusOK, false},
		{"unknown parameter", "parameter=RVIDd&weight=10", http.StatusNotFound, false},
		{"missing parameter", "weight=10", http.StatusBadRequest, false},
		{"bad weight", "parameter=LVIDd&weight=ten", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodGet, "/api/v1/reference-tables/canine/range?"+tt.query, "", "")
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			var resp rangeResponse
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Available != tt.available {
				t.Errorf("expected available=%v, got %v", tt.available, resp.Available)
			}
			if resp.Available && (resp.Min == nil || resp.Max == nil) {
				t.Error("expected bounds in response")
			}
		})
	}
}

func TestReplaceTable_JSON(t *testing.T) {
	_, e := newTestHandler()

	body := `{"rows":[{"weight":10,"LA_Min":1.5,"LA_Max":"2,1"},{"weight":20,"LA_Min":2.0,"LA_Max":2.6}]}`
	rec := doRequest(e, http.MethodPut, "/api/v1/reference-tables/canine", echo.MIMEApplicationJSON, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp replaceResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Rows != 2 || resp.Source != SourceStore || len(resp.Columns) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/reference-tables/canine/range?parameter=LA&weight=10", "", "")
	var rng rangeResponse
	json.Unmarshal(rec.Body.Bytes(), &rng)
	if !rng.Available || *rng.Max != 2.1 {
		t.Errorf("expected stored LA range, got %+v", rng)
	}
}

func TestReplaceTable_CSV(t *testing.T) {
	_, e := newTestHandler()

	rec := doRequest(e, http.MethodPut, "/api/v1/reference-tables/feline", "text/csv", "weight,Ao_Min,Ao_Max\n4,0.8,1.1\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/reference-tables/feline/export", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}
	if rec.Body.String() != "weight,Ao_Min,Ao_Max\n4,0.8,1.1\n" {
		t.Errorf("unexpected export: %q", rec.Body.String())
	}
}

func TestReplaceTable_Errors(t *testing.T) {
	_, e := newTestHandler()

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"no usable rows", echo.MIMEApplicationJSON, `{"rows":[{"weight":"x"}]}`, http.StatusUnprocessableEntity},
		{"malformed json", echo.MIMEApplicationJSON, `{"rows":`, http.StatusBadRequest},
		{"malformed csv", "text/csv", "weight,LA_Min,LA_Max\n10,\"1\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPut, "/api/v1/reference-tables/canine", tt.contentType, tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResetTable(t *testing.T) {
	_, e := newTestHandler()

	doRequest(e, http.MethodPut, "/api/v1/reference-tables/canine", "text/csv", "weight,LA_Min,LA_Max\n10,1,2\n")
	rec := doRequest(e, http.MethodDelete, "/api/v1/reference-tables/canine", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/reference-tables/canine?_count=1", "", "")
	var resp tableResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Source != SourceDefault {
		t.Errorf("expected defaults after reset, got %s", resp.Source)
	}
}

func TestInterpret(t *testing.T) {
	_, e := newTestHandler()

	body := `{"species":"canine","weight":10,"measurements":{"LVIDd":2.5,"LA":1.0}}`
	rec := doRequest(e, http.MethodPost, "/api/v1/interpretations", echo.MIMEApplicationJSON, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp interpretResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	got := map[string]Label{}
	for _, r := range resp.Results {
		got[r.Key] = r.Interpretation
	}
	if got[KeyLVIDd] != LabelNormal || got[KeyLA] != LabelReduced {
		t.Errorf("unexpected interpretations: %v", got)
	}
}

func TestInterpret_BadRequest(t *testing.T) {
	_, e := newTestHandler()

	for _, body := range []string{
		`{"species":"canine","weight":10}`,
		`{"species":"parrot","weight":1,"measurements":{"LA":1}}`,
		`not json`,
	} {
		rec := doRequest(e, http.MethodPost, "/api/v1/interpretations", echo.MIMEApplicationJSON, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestInterpretFHIR(t *testing.T) {
	_, e := newTestHandler()

	body := `{"species":"canine","weight":10,"measurements":{"LVIDd":5.0}}`
	rec := doRequest(e, http.MethodPost, "/fhir/Observation/$interpret", echo.MIMEApplicationJSON, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var bundle struct {
		ResourceType string `json:"resourceType"`
		Total        int    `json:"total"`
		Entry        []struct {
			Resource map[string]interface{} `json:"resource"`
		} `json:"entry"`
	}
	json.Unmarshal(rec.Body.Bytes(), &bundle)
	if bundle.ResourceType != "Bundle" || bundle.Total != 2 {
		t.Fatalf("expected Bundle of 2 observations, got %s/%d", bundle.ResourceType, bundle.Total)
	}
	if bundle.Entry[0].Resource["resourceType"] != "Observation" {
		t.Errorf("expected Observation entries, got %v", bundle.Entry[0].Resource["resourceType"])
	}

	rec = doRequest(e, http.MethodPost, "/fhir/Observation/$interpret", echo.MIMEApplicationJSON, `{"species":"canine"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var outcome map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &outcome)
	if outcome["resourceType"] != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %v", outcome["resourceType"])
	}
}
