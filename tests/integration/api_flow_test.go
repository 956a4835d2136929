package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sunridge-labs/leadvault/internal/auth"
	"github.com/sunridge-labs/leadvault/internal/buyers"
	"github.com/sunridge-labs/leadvault/internal/database"
	"github.com/sunridge-labs/leadvault/internal/ratelimit"
	"github.com/sunridge-labs/leadvault/internal/server"
	"github.com/sunridge-labs/leadvault/internal/users"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiClient struct {
	t       *testing.T
	baseURL string
	token   string
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "integration.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	idProvider := buyers.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	leadService, err := buyers.NewService(buyers.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct buyers service: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "leadvault-test",
		Audience:      "leadvault-api",
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenIssuer,
		UserService:   userService,
		LeadService:   leadService,
		CreateLimiter: ratelimit.NewMemoryLimiter(100, time.Minute, nil),
		UpdateLimiter: ratelimit.NewMemoryLimiter(100, time.Minute, nil),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func (c *apiClient) do(method, path, body string) (int, []byte) {
	c.t.Helper()

	request, err := http.NewRequest(method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		c.t.Fatalf("failed to read response body: %v", err)
	}
	return response.StatusCode, payload
}

func (c *apiClient) login(email string) {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/auth/login", fmt.Sprintf(`{"email":%q}`, email))
	if status != http.StatusOK {
		c.t.Fatalf("login failed with status %d: %s", status, body)
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		c.t.Fatalf("failed to decode login response: %v", err)
	}
	c.token = response.AccessToken
}

func TestLeadLifecycleOverHTTP(t *testing.T) {
	testServer := newTestServer(t)
	client := &apiClient{t: t, baseURL: testServer.URL}
	client.login("agent@example.com")

	// Create.
	status, body := client.do(http.MethodPost, "/buyers", `{
		"full_name": "Asha Verma",
		"phone": "9876543210",
		"city": "Chandigarh",
		"property_type": "Villa",
		"bhk": "4",
		"purpose": "Buy",
		"budget_min": 8000000,
		"budget_max": 12000000,
		"timeline": "3-6m",
		"source": "Referral",
		"tags": ["premium"]
	}`)
	if status != http.StatusCreated {
		t.Fatalf("create failed with status %d: %s", status, body)
	}
	var lead buyers.Buyer
	if err := json.Unmarshal(body, &lead); err != nil {
		t.Fatalf("failed to decode lead: %v", err)
	}

	// Listing shows the lead.
	status, body = client.do(http.MethodGet, "/buyers?city=Chandigarh", "")
	if status != http.StatusOK {
		t.Fatalf("list failed with status %d: %s", status, body)
	}
	var page buyers.LeadPage
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if page.TotalCount != 1 || page.Leads[0].ID != lead.ID {
		t.Fatalf("unexpected listing %s", body)
	}

	// Changes within a second of each other fold into one history entry, so
	// step past the window before updating.
	time.Sleep(1100 * time.Millisecond)

	// Update with the current concurrency token.
	known := lead.UpdatedAt.Format(time.RFC3339)
	status, body = client.do(http.MethodPut, "/buyers/"+lead.ID,
		fmt.Sprintf(`{"status":"Qualified","known_updated_at":%q}`, known))
	if status != http.StatusOK {
		t.Fatalf("update failed with status %d: %s", status, body)
	}

	// A stale token conflicts.
	stale := lead.UpdatedAt.Add(-time.Hour).Format(time.RFC3339)
	status, body = client.do(http.MethodPut, "/buyers/"+lead.ID,
		fmt.Sprintf(`{"status":"Contacted","known_updated_at":%q}`, stale))
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for stale update, got %d: %s", status, body)
	}

	// History holds the created entry plus the status change.
	status, body = client.do(http.MethodGet, "/buyers/"+lead.ID+"/history", "")
	if status != http.StatusOK {
		t.Fatalf("history failed with status %d: %s", status, body)
	}
	var historyResponse struct {
		History []buyers.LeadChange `json:"history"`
	}
	if err := json.Unmarshal(body, &historyResponse); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(historyResponse.History) != 2 {
		t.Fatalf("expected two history entries, got %d", len(historyResponse.History))
	}

	// Export carries the lead.
	status, body = client.do(http.MethodGet, "/buyers/export", "")
	if status != http.StatusOK {
		t.Fatalf("export failed with status %d: %s", status, body)
	}
	if !strings.Contains(string(body), "Asha Verma") {
		t.Fatalf("expected lead in export, got %q", body)
	}

	// Delete, then the lead is gone.
	status, body = client.do(http.MethodDelete, "/buyers/"+lead.ID, "")
	if status != http.StatusOK {
		t.Fatalf("delete failed with status %d: %s", status, body)
	}
	status, _ = client.do(http.MethodGet, "/buyers/"+lead.ID, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestCSVImportOverHTTP(t *testing.T) {
	testServer := newTestServer(t)
	client := &apiClient{t: t, baseURL: testServer.URL}
	client.login("agent@example.com")

	payload := strings.Join([]string{
		"fullName,email,phone,city,propertyType,bhk,purpose,budgetMin,budgetMax,timeline,source,notes,tags,status",
		"Asha Verma,asha@example.com,9876543210,Mohali,Apartment,3,Buy,5000000,7000000,0-3m,Website,,urgent,New",
		"Bad Phone,bad@example.com,123,Mohali,Apartment,3,Buy,,,0-3m,Website,,,New",
	}, "\n")

	status, body := client.do(http.MethodPost, "/buyers/import", payload)
	if status != http.StatusOK {
		t.Fatalf("import failed with status %d: %s", status, body)
	}
	var report buyers.ImportReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Success || report.Imported != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report %s", body)
	}
	if report.Errors[0].Row != 3 {
		t.Fatalf("expected error on row 3, got %#v", report.Errors[0])
	}
}

func TestOwnershipEnforcedAcrossUsers(t *testing.T) {
	testServer := newTestServer(t)
	owner := &apiClient{t: t, baseURL: testServer.URL}
	owner.login("owner@example.com")
	other := &apiClient{t: t, baseURL: testServer.URL}
	other.login("other@example.com")

	status, body := owner.do(http.MethodPost, "/buyers", `{
		"full_name": "Ravi Sharma",
		"phone": "9876543210",
		"city": "Mohali",
		"property_type": "Plot",
		"purpose": "Buy",
		"timeline": "0-3m",
		"source": "Website"
	}`)
	if status != http.StatusCreated {
		t.Fatalf("create failed with status %d: %s", status, body)
	}
	var lead buyers.Buyer
	if err := json.Unmarshal(body, &lead); err != nil {
		t.Fatalf("failed to decode lead: %v", err)
	}

	// Any authenticated user may read.
	status, _ = other.do(http.MethodGet, "/buyers/"+lead.ID, "")
	if status != http.StatusOK {
		t.Fatalf("expected read access for other user, got %d", status)
	}

	// Only the owner may mutate.
	status, _ = other.do(http.MethodPut, "/buyers/"+lead.ID, `{"status":"Qualified"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner update, got %d", status)
	}
	status, _ = other.do(http.MethodDelete, "/buyers/"+lead.ID, "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner delete, got %d", status)
	}
}
