package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/ingest"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/testutil"
)

func setupServer(t *testing.T) (http.Handler, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	server := NewServer(db.Storage, ingest.New(db.Storage, nil))
	server.EnableMetrics()
	return server.Handler(), db
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func flowJSON(id, ts string) string {
	return `{"id":"` + id + `","flowOperator":"` + testutil.Sender + `","flowRate":"1000","transactionHash":"` +
		testutil.TxHash(1) + `","receiver":"` + testutil.Receiver + `","sender":"` + testutil.Sender +
		`","token":"` + testutil.Token + `","timestamp":"` + ts + `"}`
}

func numericTimestampJSON(id string) string {
	return strings.Replace(flowJSON(id, "1000"), `"timestamp":"1000"`, `"timestamp":1000`, 1)
}

func TestFlowWebhook_UndecodableElementKeepsSiblings(t *testing.T) {
	h, db := setupServer(t)

	body := "[" + flowJSON("evt-1", "1000") + "," + flowJSON("evt-2", "1000") + "," + numericTimestampJSON("evt-bad") + "]"
	w := do(t, h, http.MethodPost, "/v1/webhooks/flows", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, webhookResponse{Status: "accepted", Accepted: 2, Rejected: 1}, decode[webhookResponse](t, w))

	assert.Equal(t, "evt-1", db.MustGetEvent("evt-1").ID)
	assert.Equal(t, "evt-2", db.MustGetEvent("evt-2").ID)
	_, err := db.Storage.GetFlowEvent(context.Background(), "evt-bad")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestHealth(t *testing.T) {
	h, _ := setupServer(t)
	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setupServer(t)
	do(t, h, http.MethodPost, "/v1/webhooks/flows", flowJSON("evt-1", "1000"))

	w := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flowd_ingest_events_total")
}

func TestFlowWebhook(t *testing.T) {
	tests := []struct {
		name string
		body string
		want webhookResponse
	}{
		{
			name: "single object",
			body: flowJSON("evt-1", "1000"),
			want: webhookResponse{Status: "accepted", Accepted: 1},
		},
		{
			name: "array with duplicate and malformed",
			body: "[" + flowJSON("evt-2", "1000") + "," + flowJSON("evt-2", "1000") + "," + flowJSON("evt-3", "soon") + "]",
			want: webhookResponse{Status: "accepted", Accepted: 1, Duplicates: 1, Rejected: 1},
		},
		{
			name: "array element with numeric timestamp",
			body: "[" + flowJSON("evt-4", "1000") + "," + numericTimestampJSON("evt-bad") + "," + flowJSON("evt-5", "1000") + "]",
			want: webhookResponse{Status: "accepted", Accepted: 2, Rejected: 1},
		},
		{
			name: "undecodable body still answers 200",
			body: `{"id":`,
			want: webhookResponse{Status: "accepted", Rejected: 1},
		},
		{
			name: "empty body",
			body: "",
			want: webhookResponse{Status: "accepted", Rejected: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := setupServer(t)
			w := do(t, h, http.MethodPost, "/v1/webhooks/flows", tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decode[webhookResponse](t, w))
		})
	}
}

func TestFlowWebhook_RedeliveryIsIdempotent(t *testing.T) {
	h, db := setupServer(t)

	for i := 0; i < 3; i++ {
		w := do(t, h, http.MethodPost, "/v1/webhooks/flows", flowJSON("evt-1", "1000"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	counts, err := db.Storage.CountEventsByState(context.Background())
	require.NoError(t, err)
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestIntents(t *testing.T) {
	h, _ := setupServer(t)

	w := do(t, h, http.MethodPost, "/v1/intents", `{"sender":"`+testutil.Sender+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/v1/intents",
		`{"sender":"`+testutil.Sender+`","receiver":"`+testutil.Receiver+`","expectedFlowRate":"1000","createdAt":950,"gated":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[intentView](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(950), created.CreatedAt)
	assert.True(t, created.Gated)
	assert.False(t, created.Matched)

	w = do(t, h, http.MethodGet, "/v1/intents/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created, decode[intentView](t, w))

	w = do(t, h, http.MethodPost, "/v1/intents/"+created.ID+"/link", `{"transactionHash":"0x123"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	hash := testutil.TxHash(42)
	w = do(t, h, http.MethodPost, "/v1/intents/"+created.ID+"/link", `{"transactionHash":"`+hash+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, hash, decode[intentView](t, w).TransactionHash)

	w = do(t, h, http.MethodGet, "/v1/intents/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/v1/intents/missing/link", `{"transactionHash":"`+hash+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateIntentValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "bad receiver", body: `{"sender":"` + testutil.Sender + `","receiver":"bob","expectedFlowRate":"1"}`},
		{name: "negative rate", body: `{"sender":"` + testutil.Sender + `","receiver":"` + testutil.Receiver + `","expectedFlowRate":"-1"}`},
		{name: "bad hash", body: `{"sender":"` + testutil.Sender + `","receiver":"` + testutil.Receiver + `","expectedFlowRate":"1","transactionHash":"0xzz"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := setupServer(t)
			w := do(t, h, http.MethodPost, "/v1/intents", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestLinkMatchedIntentConflicts(t *testing.T) {
	h, db := setupServer(t)
	db.MustCreateIntent("intent-950", 950)
	db.MustInsertEvent("evt-1", 1000)

	w := do(t, h, http.MethodPost, "/v1/intents/intent-950/link", `{"transactionHash":"`+testutil.TxHash(1000)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, claim(db, "intent-950", "evt-1"))

	w = do(t, h, http.MethodPost, "/v1/intents/intent-950/link", `{"transactionHash":"`+testutil.TxHash(7)+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetEvent(t *testing.T) {
	h, db := setupServer(t)
	db.MustInsertEvent("evt-1", 1000)

	w := do(t, h, http.MethodGet, "/v1/events/evt-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[eventView](t, w)
	assert.Equal(t, "ingested", view.State)
	assert.Equal(t, "NONE", view.Confidence)
	assert.Equal(t, "1000", view.FlowRate)
	assert.Equal(t, int64(1000), view.Timestamp)
	assert.Nil(t, view.ValuationUSD)

	w = do(t, h, http.MethodGet, "/v1/events/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
