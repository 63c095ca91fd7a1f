package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	ObserveTransfer("solana-devnet", OutcomeSubmitted)
	ObserveTransfer("solana-devnet", OutcomeRejected)
	ObserveStage("simulate", 20*time.Millisecond)
	ObserveWalletIssued("evm-local")
	ObserveHTTPRequest("/api/v1/agents", "POST", 201, 3*time.Millisecond)

	body := scrape(t)
	for _, want := range []string{
		`agentvault_transfers_total{chain="solana-devnet",outcome="submitted"}`,
		`agentvault_transfers_total{chain="solana-devnet",outcome="rejected"}`,
		`agentvault_transfer_stage_seconds_bucket{stage="simulate"`,
		`agentvault_wallets_issued_total{chain="evm-local"}`,
		`agentvault_http_requests_total{code="201",handler="/api/v1/agents",method="POST"}`,
		`agentvault_http_request_duration_seconds_count{handler="/api/v1/agents",method="POST"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := StartServer(t.Context(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
