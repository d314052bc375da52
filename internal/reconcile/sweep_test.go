package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/ingest"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/provider"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/testutil"
)

type recordingAlerter struct {
	alerts []Alert
	mu     sync.Mutex
}

func (r *recordingAlerter) Raise(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func (s *Sweeper) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerted)
}

func sweepConfig() SweepConfig {
	return SweepConfig{Interval: time.Minute, BatchSize: 50, AlertAfter: 2, Concurrency: 2}
}

func TestSweeper_RunOnceAdvancesPendingEvents(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustCreateIntent("intent-950", 950)
	h.db.MustAddPrice(900, "2.00")
	h.db.MustInsertEvent("evt-1", 1000)
	h.db.MustInsertEvent("evt-2", 1001) // no intent left for it

	// One at a time so the older event claims the intent.
	cfg := sweepConfig()
	cfg.Concurrency = 1
	sweeper := NewSweeper(h.db.Storage, h.pipeline, &recordingAlerter{}, cfg)

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.States[model.StateFinalized])
	assert.Equal(t, 1, report.States[model.StateUnmatched])

	// Finalized events are never listed again.
	report, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, model.StateFinalized, h.db.MustGetEvent("evt-1").State)
}

func TestSweeper_RespectsMinAge(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustInsertEvent("evt-1", 1000)

	cfg := sweepConfig()
	cfg.MinAge = time.Hour
	sweeper := NewSweeper(h.db.Storage, h.pipeline, &recordingAlerter{}, cfg)

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "recently touched events wait")
}

func TestSweeper_AlertsOncePerThresholdCrossing(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustCreateIntent("intent-950", 950)
	h.db.MustInsertEvent("evt-1", 1000) // no price, so valuation keeps failing

	alerter := &recordingAlerter{}
	sweeper := NewSweeper(h.db.Storage, h.pipeline, alerter, sweepConfig())

	wantAlerts := []int{0, 1, 1, 2}
	for pass, want := range wantAlerts {
		report, err := sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed, "pass %d", pass+1)
		assert.Equal(t, want, alerter.count(), "pass %d", pass+1)
	}

	alert := alerter.alerts[0]
	assert.Equal(t, "evt-1", alert.EventID)
	assert.Equal(t, StepValuate, alert.Step)
	assert.Equal(t, 2, alert.Attempts)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, 4, h.db.MustGetEvent("evt-1").Attempts)
}

func TestSweeper_AlertsOnPersistentlyUnmatchedEvent(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustInsertEvent("evt-1", 1000) // the pledge never arrives

	alerter := &recordingAlerter{}
	sweeper := NewSweeper(h.db.Storage, h.pipeline, alerter, sweepConfig())

	// The first pass only marks the event unmatched.
	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Zero(t, h.db.MustGetEvent("evt-1").Attempts)

	for pass := 0; pass < 2; pass++ {
		report, err = sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
	}

	require.Equal(t, 1, alerter.count())
	alert := alerter.alerts[0]
	assert.Equal(t, StepMatch, alert.Step)
	assert.Equal(t, 2, alert.Attempts)
	assert.Contains(t, alert.Reason, common.ErrNoMatch.Error())

	event := h.db.MustGetEvent("evt-1")
	assert.Equal(t, model.StateUnmatched, event.State)
	assert.Equal(t, 2, event.Attempts)
}

func TestSweeper_ForgetsAlertsForEventsFinalizedElsewhere(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustCreateIntent("intent-950", 950)
	h.db.MustInsertEvent("evt-1", 1000) // no price yet

	sweeper := NewSweeper(h.db.Storage, h.pipeline, &recordingAlerter{}, sweepConfig())
	for pass := 0; pass < 2; pass++ {
		_, err := sweeper.RunOnce(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 1, sweeper.alertCount())

	// A pipeline worker finishes the event between passes.
	h.db.MustAddPrice(900, "2.00")
	state, err := h.pipeline.Process(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Equal(t, model.StateFinalized, state)

	_, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sweeper.alertCount())
}

func TestSweeper_Backfill(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustCreateIntent("intent-950", 950)
	linked := h.db.MustCreateIntent("intent-linked", 960)
	require.NoError(t, h.db.Storage.LinkIntentTransaction(context.Background(), linked.ID, testutil.TxHash(2000)))
	h.db.MustAddPrice(900, "2.00")

	flows := &provider.MockClient{
		GetFlowByRateFn: func(_ context.Context, q provider.FlowQuery, after time.Time) (*model.RawFlowEvent, error) {
			assert.Equal(t, "1000", q.FlowRate)
			assert.Equal(t, int64(949), after.Unix())
			return &model.RawFlowEvent{
				ID:              "evt-backfilled",
				FlowOperator:    testutil.Sender,
				FlowRate:        "1000",
				TransactionHash: testutil.TxHash(1000),
				Receiver:        testutil.Receiver,
				Sender:          testutil.Sender,
				Token:           testutil.Token,
				Timestamp:       "1000",
			}, nil
		},
		GetFlowByTxHashFn: func(_ context.Context, q provider.FlowQuery) (*model.RawFlowEvent, error) {
			assert.Equal(t, testutil.TxHash(2000), q.TransactionHash)
			return nil, nil
		},
	}

	cfg := sweepConfig()
	cfg.Backfill = true
	sweeper := NewSweeper(h.db.Storage, h.pipeline, &recordingAlerter{}, cfg).
		WithBackfill(flows, ingest.New(h.db.Storage, nil))

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Backfilled)
	assert.Len(t, flows.RateCalls, 1)
	assert.Len(t, flows.TxHashCalls, 1)

	event := h.db.MustGetEvent("evt-backfilled")
	assert.Equal(t, model.StateFinalized, event.State)
	assert.Equal(t, "intent-950", event.IntentID)
}

func TestSweeper_BackfillProviderErrorsDoNotStopSweep(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.db.MustCreateIntent("intent-950", 950)

	flows := &provider.MockClient{
		GetFlowByRateFn: func(context.Context, provider.FlowQuery, time.Time) (*model.RawFlowEvent, error) {
			return nil, errors.New("subgraph down")
		},
	}
	cfg := sweepConfig()
	cfg.Backfill = true
	sweeper := NewSweeper(h.db.Storage, h.pipeline, nil, cfg).WithBackfill(flows, ingest.New(h.db.Storage, nil))

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Backfilled)
	assert.Equal(t, 1, flows.CallCount())
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaAlerter_Raise(t *testing.T) {
	writer := &fakeWriter{}
	alerter := &KafkaAlerter{writer: writer}

	alert := NewAlert("evt-1", StepValuate, "no price data", 5)
	require.NoError(t, alerter.Raise(context.Background(), alert))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, []byte("evt-1"), msg.Key)

	var decoded Alert
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, alert.ID, decoded.ID)
	assert.Equal(t, 5, decoded.Attempts)

	require.NoError(t, alerter.Close())
	assert.True(t, writer.closed)
}

func TestMultiAlerter_RaisesOnEverySink(t *testing.T) {
	failing := &KafkaAlerter{writer: &fakeWriter{err: errors.New("broker down")}}
	recorder := &recordingAlerter{}

	err := MultiAlerter{failing, NewLogAlerter(), recorder}.Raise(context.Background(), NewAlert("evt-1", StepMatch, "boom", 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, recorder.count(), "a failing sink does not stop the others")
}
