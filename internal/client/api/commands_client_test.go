package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   models.OutcomeKind
	}{
		{202, models.OutcomeSent},
		{200, models.OutcomeIdempotentDuplicate},
		{409, models.OutcomePending},
		{404, models.OutcomeError},
		{500, models.OutcomeError},
	}
	for _, tc := range cases {
		if got := Classify(tc.status); got != tc.want {
			t.Errorf("Classify(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestSubmitStartSendsSingleRequest(t *testing.T) {
	var calls int32
	var gotBody map[string]interface{}
	var gotForce string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/commands/remoteStart" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotForce = r.URL.Query().Get("force")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "token-1", server.Client(), zap.NewNop())
	outcome := client.SubmitStart(context.Background(), StartRequest{
		ChargeBoxID: "CP-001",
		IDTag:       " TAG-7 ",
		ConnectorID: 2,
		Force:       true,
	})

	if outcome.Kind != models.OutcomeSent {
		t.Fatalf("expected sent outcome, got %s (%s)", outcome.Kind, outcome.Message)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
	if gotForce != "1" {
		t.Fatalf("expected force=1 query, got %q", gotForce)
	}
	if gotBody["chargeBoxId"] != "CP-001" {
		t.Fatalf("unexpected chargeBoxId: %v", gotBody["chargeBoxId"])
	}
	if gotBody["idTag"] != "TAG-7" {
		t.Fatalf("expected trimmed idTag, got %v", gotBody["idTag"])
	}
	if gotBody["connectorId"] != float64(2) {
		t.Fatalf("unexpected connectorId: %v", gotBody["connectorId"])
	}
}

func TestSubmitStartOmitsNonPositiveConnector(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	client.SubmitStart(context.Background(), StartRequest{ChargeBoxID: "CP-001", IDTag: "TAG"})

	if _, ok := gotBody["connectorId"]; ok {
		t.Fatalf("connectorId should be omitted, got %v", gotBody["connectorId"])
	}
}

func TestSubmitStartRequiresIDTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for empty idTag")
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	outcome := client.SubmitStart(context.Background(), StartRequest{ChargeBoxID: "CP-001", IDTag: "   "})
	if outcome.Kind != models.OutcomeError {
		t.Fatalf("expected error outcome, got %s", outcome.Kind)
	}
}

func TestSubmitStopClassifiesPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/commands/remoteStop" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["transactionId"] != float64(42) {
			t.Errorf("unexpected transactionId: %v", body["transactionId"])
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	outcome := client.SubmitStop(context.Background(), 42)
	if outcome.Kind != models.OutcomePending {
		t.Fatalf("expected pending outcome, got %s", outcome.Kind)
	}
	if outcome.Message == "" {
		t.Fatal("pending outcome should carry a message")
	}
}

func TestSubmitStopIdempotentDuplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	outcome := client.SubmitStop(context.Background(), 42)
	if outcome.Kind != models.OutcomeIdempotentDuplicate {
		t.Fatalf("expected idempotentDuplicate, got %s", outcome.Kind)
	}
	if !outcome.Accepted() {
		t.Fatal("idempotent duplicate should count as accepted")
	}
}

func TestErrorMessageTakenFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"charger rejected idTag"}`))
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	outcome := client.SubmitStart(context.Background(), StartRequest{ChargeBoxID: "CP-001", IDTag: "TAG"})
	if outcome.Kind != models.OutcomeError {
		t.Fatalf("expected error outcome, got %s", outcome.Kind)
	}
	if outcome.Message != "charger rejected idTag" {
		t.Fatalf("expected backend message, got %q", outcome.Message)
	}
}

func TestErrorMessageFallsBackToGeneric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := NewCommandsClient(server.URL, "", server.Client(), zap.NewNop())
	outcome := client.SubmitStart(context.Background(), StartRequest{ChargeBoxID: "CP-001", IDTag: "TAG"})
	if outcome.Message != "HTTP 502" {
		t.Fatalf("expected generic message, got %q", outcome.Message)
	}
}

func TestSubmitStartTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewCommandsClient(server.URL, "", NewDefaultHTTPClient(time.Second), zap.NewNop())
	outcome := client.SubmitStart(context.Background(), StartRequest{ChargeBoxID: "CP-001", IDTag: "TAG"})
	if outcome.Kind != models.OutcomeError {
		t.Fatalf("expected error outcome for transport failure, got %s", outcome.Kind)
	}
}
