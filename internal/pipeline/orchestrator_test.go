package pipeline

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/directcall"
	"carepipe/internal/extraction"
	"carepipe/internal/logger"
	"carepipe/internal/planning"
	"carepipe/internal/scoring"
	"carepipe/internal/stage"
	"carepipe/internal/store"
	"carepipe/pkg/errors"
	"carepipe/pkg/health"
	"carepipe/pkg/models"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type harness struct {
	transport    *broker.MemoryTransport
	store        *store.MemoryStore
	orchestrator *Orchestrator
	directHits   *atomic.Int32
}

type harnessOptions struct {
	withStore   bool
	brokenStage string
}

// newHarness wires every stage twice: as broker workers on an in-memory transport and as HTTP
// servers reachable through the direct-call client.
func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	log := logger.NopLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eligibility, err := scoring.EligibilityFromConfig(config.ScoringConfig{})
	require.NoError(t, err)

	extract := stage.Extraction(extraction.NewService(extraction.NewMatcher(nil), log, extraction.WithClock(clock)), nil)
	score := stage.Scoring(scoring.NewService(eligibility, scoring.SyntheticFeatures{}, scoring.NewLogisticScorer(), log, scoring.WithClock(clock)), nil)
	plan := stage.Planning(planning.NewService(log, planning.WithClock(clock)), nil)

	tr := broker.NewMemoryTransport(log)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.DeclareTopology(ctx, broker.DefaultTopology()))
	t.Cleanup(func() { _ = tr.Close() })

	go func() { _ = stage.ExtractionWorker(extract, tr, log)(ctx) }()
	go func() { _ = stage.ScoringWorker(score, tr, log)(ctx) }()
	go func() { _ = stage.PlanningWorker(plan, tr, log)(ctx) }()

	hits := &atomic.Int32{}
	serve := func(service string) string {
		router := stage.NewRouter(service, &config.Config{}, log, health.NewCheckerRegistry(service))
		var handler http.Handler = router
		switch service {
		case constants.ServiceExtraction:
			stage.Handle(router, extract)
		case constants.ServiceScoring:
			stage.Handle(router, score)
		case constants.ServicePlanning:
			stage.Handle(router, plan)
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if service == opts.brokenStage {
				http.Error(w, "stage unavailable", http.StatusInternalServerError)
				return
			}
			handler.ServeHTTP(w, r)
		}))
		t.Cleanup(srv.Close)
		return srv.URL
	}

	client := directcall.NewClient(config.ServicesConfig{
		Extraction: config.EndpointConfig{BaseURL: serve(constants.ServiceExtraction)},
		Scoring:    config.EndpointConfig{BaseURL: serve(constants.ServiceScoring)},
		Planning:   config.EndpointConfig{BaseURL: serve(constants.ServicePlanning)},
	}, 5*time.Second)

	requester := broker.NewRequester(tr, 2*time.Second, log)
	require.NoError(t, requester.Start(ctx))

	selector := NewTransportSelector(tr, requester, client, 5*time.Second, log, WithSelectorClock(clock))

	h := &harness{transport: tr, directHits: hits}
	var orchestratorOpts []Option
	if opts.withStore {
		h.store = store.NewMemoryStore()
		orchestratorOpts = append(orchestratorOpts, WithFallbackStore(h.store))
	}
	h.orchestrator = NewOrchestrator(selector, broker.NewPublishers(tr).WithClock(clock), log, orchestratorOpts...)
	return h
}

func message(id, content string, age int) models.ClinicalMessage {
	return models.ClinicalMessage{
		MessageID:   id,
		MemberID:    "MEM-1001",
		MessageType: "HL7",
		Content:     content,
		MemberAge:   &age,
	}
}

func allRoutes(route Route) map[string]Route {
	return map[string]Route{
		constants.StageExtraction: route,
		constants.StageScoring:    route,
		constants.StagePlanning:   route,
	}
}

func TestRunOverBroker(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res := h.orchestrator.Run(context.Background(), message("msg-1", "OBX|1|TX|||Pap smear performed, HPV negative", 30))

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, StatePublished, res.State)
	assert.Equal(t, PublishedToBroker, res.PublishedTo)
	assert.Equal(t, allRoutes(RouteBroker), res.Routes)
	assert.Zero(t, h.directHits.Load())

	require.NotNil(t, res.Evidence)
	assert.Equal(t, []string{constants.MeasureCCS}, res.Evidence.MeasuresDetected)
	require.NotNil(t, res.Risk)
	assert.Contains(t, res.Risk.RiskPredictions, constants.MeasureCCS)
	require.NotNil(t, res.CarePlan)
	assert.Equal(t, "msg-1", res.CarePlan.MessageID)
	assert.Equal(t, 1, h.transport.QueueDepth(constants.CareGapsQueue))
}

func TestDirectPathMatchesBrokerPath(t *testing.T) {
	msg := message("msg-eq", "Colonoscopy completed 2024-11-02. Pap smear due.", 52)

	viaBroker := newHarness(t, harnessOptions{withStore: true})
	brokerRes := viaBroker.orchestrator.Run(context.Background(), msg)
	require.True(t, brokerRes.Success, brokerRes.Reason)
	assert.Equal(t, allRoutes(RouteBroker), brokerRes.Routes)

	viaDirect := newHarness(t, harnessOptions{withStore: true})
	viaDirect.transport.Disconnect()
	directRes := viaDirect.orchestrator.Run(context.Background(), msg)
	require.True(t, directRes.Success, directRes.Reason)
	assert.Equal(t, allRoutes(RouteDirect), directRes.Routes)
	assert.Equal(t, int32(3), viaDirect.directHits.Load())

	assert.Equal(t, brokerRes.Evidence, directRes.Evidence)
	assert.Equal(t, brokerRes.Risk, directRes.Risk)
	assert.Equal(t, brokerRes.CarePlan, directRes.CarePlan)
	assert.Equal(t, brokerRes.Alert, directRes.Alert)

	// The dashboard publish also needs the broker, so the disconnected run lands in the store.
	assert.Equal(t, PublishedToStore, directRes.PublishedTo)
	plans, err := viaDirect.store.PlansForMember(context.Background(), msg.MemberID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, *directRes.CarePlan, plans[0])
}

func TestFallbackIsDecidedPerCall(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.SetPublishFault(func(exchange, routingKey string) error {
		if exchange == constants.EvidenceExchange {
			return stderrors.New("channel closed")
		}
		return nil
	})

	res := h.orchestrator.Run(context.Background(), message("msg-mixed", "pap smear", 40))

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, map[string]Route{
		constants.StageExtraction: RouteBroker,
		constants.StageScoring:    RouteDirect,
		constants.StagePlanning:   RouteBroker,
	}, res.Routes)
	assert.Equal(t, int32(1), h.directHits.Load())
}

func TestDirectFailureAfterFallbackIsTerminal(t *testing.T) {
	h := newHarness(t, harnessOptions{brokenStage: constants.ServicePlanning})
	h.transport.Disconnect()

	res := h.orchestrator.Run(context.Background(), message("msg-fail", "pap smear", 30))

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, constants.StagePlanning, res.Stage)
	assert.Equal(t, errors.ErrCall.Code, res.ErrorCode)
	assert.NotNil(t, res.Evidence)
	assert.NotNil(t, res.Risk)
	assert.Nil(t, res.CarePlan)
	assert.False(t, res.Published)
}

func TestRejectedInputDoesNotFallBack(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	msg := message("msg-bad", "pap smear", 30)
	msg.MemberID = ""

	res := h.orchestrator.Run(context.Background(), msg)

	assert.False(t, res.Success)
	assert.Equal(t, constants.StageExtraction, res.Stage)
	assert.Equal(t, errors.ErrStageRejected.Code, res.ErrorCode)
	assert.Equal(t, RouteBroker, res.Routes[constants.StageExtraction])
	assert.Zero(t, h.directHits.Load())
}

func TestIneligibleMemberIsPublishedWithoutGaps(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res := h.orchestrator.Run(context.Background(), message("msg-70", "colonoscopy", 70))

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, StatePublished, res.State)
	assert.Empty(t, res.Risk.RiskPredictions)
	assert.Empty(t, res.CarePlan.CareGaps)
	assert.Zero(t, res.CarePlan.TotalCareGaps)
	assert.Nil(t, res.Alert)
	assert.Zero(t, h.transport.QueueDepth(constants.CareAlertsQueue))
}

func TestMessageWithoutEvidenceIsStillScored(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res := h.orchestrator.Run(context.Background(), message("msg-none", "Routine follow-up, no findings.", 30))

	require.True(t, res.Success, res.Reason)
	assert.False(t, res.Evidence.EvidenceFound)
	assert.Empty(t, res.Evidence.MeasuresDetected)
	assert.Contains(t, res.Risk.RiskPredictions, constants.MeasureCCS)
	assert.Equal(t, StatePublished, res.State)
}

func TestMissingMessageIDIsAssigned(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res := h.orchestrator.Run(context.Background(), message("", "pap smear", 30))

	require.True(t, res.Success, res.Reason)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, res.MessageID, res.CarePlan.MessageID)
}

func TestPublishFailure(t *testing.T) {
	dashboardDown := func(exchange, routingKey string) error {
		if exchange == constants.DashboardExchange {
			return stderrors.New("exchange unavailable")
		}
		return nil
	}

	t.Run("falls back to the store", func(t *testing.T) {
		h := newHarness(t, harnessOptions{withStore: true})
		h.transport.SetPublishFault(dashboardDown)

		res := h.orchestrator.Run(context.Background(), message("msg-store", "pap smear", 30))

		require.True(t, res.Success)
		assert.True(t, res.Published)
		assert.Equal(t, PublishedToStore, res.PublishedTo)
		assert.Equal(t, StatePublished, res.State)

		plans, err := h.store.PlansForMember(context.Background(), "MEM-1001")
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "msg-store", plans[0].MessageID)
	})

	t.Run("without a store the run stays planned", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.transport.SetPublishFault(dashboardDown)

		res := h.orchestrator.Run(context.Background(), message("msg-nostore", "pap smear", 30))

		assert.True(t, res.Success)
		assert.False(t, res.Published)
		assert.Equal(t, StatePlanned, res.State)
		assert.NotEmpty(t, res.PublishError)
		assert.NotNil(t, res.CarePlan)
	})
}
