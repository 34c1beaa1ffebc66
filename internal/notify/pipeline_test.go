package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
	mock "github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify/test"
)

type pipelineFixture struct {
	records       *mock.MockRecordStore
	permissions   *mock.MockPermissionStore
	subscriptions *mock.MockSubscriptionStore
	transport     *mock.MockTransport
	reporter      *mock.CaptureReporter
	dispatchLog   *mock.MockDispatchLog
	pipeline      *notify.Pipeline
}

func newPipelineFixture(t *testing.T, catalog notify.Catalog) *pipelineFixture {
	t.Helper()

	fixture := &pipelineFixture{
		records:       &mock.MockRecordStore{},
		permissions:   &mock.MockPermissionStore{},
		subscriptions: &mock.MockSubscriptionStore{},
		transport:     &mock.MockTransport{},
		reporter:      &mock.CaptureReporter{},
		dispatchLog:   &mock.MockDispatchLog{},
	}

	resolver := notify.NewResolver(fixture.records, fixture.permissions, 2*time.Second)
	payloads := notify.NewPayloadBuilder(fixture.records, nil, 2*time.Second)
	fanout := notify.NewFanout(fixture.subscriptions, fixture.transport, fixture.reporter, 4, 2*time.Second)

	pipeline, err := notify.NewPipeline(catalog, resolver, payloads, fanout, fixture.dispatchLog, fixture.reporter, 2)
	require.NoError(t, err)

	fixture.pipeline = pipeline
	return fixture
}

func TestPipeline_LateEstimateFlagFlipNotifiesPermissionHolders(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.permissions.Grant(notify.PermissionShowLateEstimates, "estimator")
	fixture.permissions.Assign("estimator", "alice")
	fixture.subscriptions.Register("alice", endpoint("ep1", "alice"))
	fixture.records.SetScalar(notify.TableProject, notify.ColumnSummary, "p1", "Armoury Reroof")

	oldRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   false,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   true,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", oldRecord, newRecord)

	require.Len(t, reports, 1)
	assert.Equal(t, notify.TypeLateEstimate, reports[0].Type)
	assert.Equal(t, 1, reports[0].Delivered)

	payloads := fixture.transport.DeliveredTo("ep1")
	require.Len(t, payloads, 1)
	payload, err := mock.DecodePayload(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, notify.TypeLateEstimate, payload.Type)
	assert.Equal(t, "p1", payload.ID)
	assert.Equal(t, "Armoury Reroof Late Estimate", payload.Label)
}

func TestPipeline_OnlyNewWatcherIsNotified(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.subscriptions.Register("alice", endpoint("ep-a", "alice"))
	fixture.subscriptions.Register("bob", endpoint("ep-b", "bob"))

	oldRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnWatchers:       []any{"alice"},
		notify.ColumnProjectManager: "mgr",
	})
	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnWatchers:       []any{"alice", "bob"},
		notify.ColumnProjectManager: "mgr",
	})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", oldRecord, newRecord)

	require.Len(t, reports, 1)
	assert.Empty(t, fixture.transport.DeliveredTo("ep-a"))
	assert.Len(t, fixture.transport.DeliveredTo("ep-b"), 1)
}

func TestPipeline_CreationTreatsOldSideAsEmptyAudience(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.subscriptions.Register("mgr", endpoint("ep-m", "mgr"))

	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", mock.Tombstone(), newRecord)

	require.Len(t, reports, 1)
	assert.Equal(t, notify.TypeProjectAssigned, reports[0].Type)
	assert.Len(t, fixture.transport.DeliveredTo("ep-m"), 1)
}

func TestPipeline_NoRulesForTableIsNoop(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())

	reports := fixture.pipeline.OnRecordChanged(context.Background(), "Unknown",
		"editor", mock.Tombstone(), mock.NewRecord("x1", nil))

	assert.Empty(t, reports)
	assert.Zero(t, fixture.transport.SendCalls)
	assert.Zero(t, fixture.reporter.Count())
}

func TestPipeline_DatedRulesAreExcludedFromRealtimeDispatch(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.permissions.Grant(notify.PermissionShowLateEstimates, "estimator")
	fixture.permissions.Assign("estimator", "alice")
	fixture.subscriptions.Register("alice", endpoint("ep1", "alice"))

	// estimateLate 未翻转:实时规则不触发,定时提醒规则也绝不参与
	record := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   false,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", record, record)

	assert.Empty(t, reports)
	assert.Zero(t, fixture.transport.SendCalls)
}

func TestPipeline_UnchangedOpenGateDispatchesNothing(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.permissions.Grant(notify.PermissionShowLateEstimates, "estimator")
	fixture.permissions.Assign("estimator", "alice")
	fixture.subscriptions.Register("alice", endpoint("ep1", "alice"))

	// estimateLate 两侧均为真:新旧受众相同,差集为空,不得重复提醒
	record := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   true,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", record, record)

	assert.Empty(t, reports)
	assert.Zero(t, fixture.transport.SendCalls)
}

func TestPipeline_RuleFailureDoesNotBlockSiblingRules(t *testing.T) {
	// 权限存储故障击垮 late-estimate 规则,但 watchers 列规则不依赖它
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.permissions.RolesErr = errors.New("permission store down")
	fixture.subscriptions.Register("bob", endpoint("ep-b", "bob"))

	oldRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   false,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnEstimateLate:   true,
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{"bob"},
	})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", oldRecord, newRecord)

	require.Len(t, reports, 1)
	assert.Equal(t, notify.TypeProjectWatch, reports[0].Type)
	assert.Len(t, fixture.transport.DeliveredTo("ep-b"), 1)
	// late-estimate 规则的失败已被上报
	assert.GreaterOrEqual(t, fixture.reporter.Count(), 1)
}

func TestPipeline_SummaryFailureDegradesButStillDispatches(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.records.ScalarErr = errors.New("record store down")
	fixture.subscriptions.Register("mgr", endpoint("ep-m", "mgr"))

	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", mock.Tombstone(), newRecord)

	require.Len(t, reports, 1)
	payloads := fixture.transport.DeliveredTo("ep-m")
	require.Len(t, payloads, 1)
	payload, err := mock.DecodePayload(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "Project Assigned", payload.Label)
	assert.GreaterOrEqual(t, fixture.reporter.Count(), 1)
}

func TestPipeline_ReportsArePersistedToDispatchLog(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.subscriptions.Register("mgr", endpoint("ep-m", "mgr"))

	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", mock.Tombstone(), newRecord)

	require.Len(t, fixture.dispatchLog.Reports, 1)
	assert.Equal(t, notify.TypeProjectAssigned, fixture.dispatchLog.Reports[0].Type)
}

func TestPipeline_DispatchLogFailureIsSwallowed(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.dispatchLog.Err = errors.New("redis down")
	fixture.subscriptions.Register("mgr", endpoint("ep-m", "mgr"))

	newRecord := mock.NewRecord("p1", map[string]any{
		notify.ColumnProjectManager: "mgr",
		notify.ColumnWatchers:       []any{},
	})
	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableProject, "editor", mock.Tombstone(), newRecord)

	// 留存失败不影响分发结论
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Delivered)
	assert.GreaterOrEqual(t, fixture.reporter.Count(), 1)
}

func TestPipeline_AllDetailSheetsCompleteNotifiesProjectRole(t *testing.T) {
	fixture := newPipelineFixture(t, notify.DefaultCatalog())
	fixture.permissions.Grant(notify.PermissionManageDetailSheets, "foreman")
	fixture.subscriptions.Register("alice", endpoint("ep1", "alice"))

	fixture.records.SetRelated(notify.TableDetailSheet, notify.ColumnProject, "p1", []notify.RecordSnapshot{
		mock.NewRecord("d1", map[string]any{notify.ColumnProject: "p1", notify.ColumnComplete: true}),
		mock.NewRecord("d2", map[string]any{notify.ColumnProject: "p1", notify.ColumnComplete: true}),
	})
	fixture.records.SetRelated(notify.TableProjectPersonnel, notify.ColumnProject, "p1", []notify.RecordSnapshot{
		mock.NewRecord("pp1", map[string]any{"user": "alice", "role": "foreman", notify.ColumnProject: "p1"}),
	})
	fixture.records.SetScalar(notify.TableProject, notify.ColumnSummary, "p1", "Armoury Reroof")

	oldRecord := mock.NewRecord("d2", map[string]any{notify.ColumnProject: "p1", notify.ColumnComplete: false})
	newRecord := mock.NewRecord("d2", map[string]any{notify.ColumnProject: "p1", notify.ColumnComplete: true})

	reports := fixture.pipeline.OnRecordChanged(context.Background(), notify.TableDetailSheet, "editor", oldRecord, newRecord)

	require.Len(t, reports, 1)
	payloads := fixture.transport.DeliveredTo("ep1")
	require.Len(t, payloads, 1)
	payload, err := mock.DecodePayload(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, notify.TypeDetailSheetsDone, payload.Type)
	assert.Equal(t, "Armoury Reroof Detail Sheets Complete", payload.Label)
}
