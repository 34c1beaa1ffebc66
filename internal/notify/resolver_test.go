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

func newResolver(records *mock.MockRecordStore, permissions *mock.MockPermissionStore) *notify.Resolver {
	return notify.NewResolver(records, permissions, 2*time.Second)
}

func TestResolver_TombstoneShortCircuitsWithoutLookups(t *testing.T) {
	records := &mock.MockRecordStore{RelatedErr: errors.New("must not be called")}
	permissions := &mock.MockPermissionStore{RolesErr: errors.New("must not be called")}
	resolver := newResolver(records, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeLateEstimate,
		Strategy:    notify.StrategyPermission,
		Permission:  notify.PermissionShowLateEstimates,
	}

	audience, err := resolver.Resolve(context.Background(), rule, mock.Tombstone())

	require.NoError(t, err)
	assert.True(t, audience.Empty())
	assert.Zero(t, records.ReadCalls)
}

func TestResolver_ColumnStrategyDeduplicates(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeProjectWatch,
		Strategy:    notify.StrategyColumn,
		Column:      notify.ColumnWatchers,
	}
	record := mock.NewRecord("p1", map[string]any{
		notify.ColumnWatchers: []any{"alice", "bob", "alice"},
	})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice", "bob"}, audience.Members())
}

func TestResolver_ColumnStrategyMissingColumnIsConfigurationError(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeProjectWatch,
		Strategy:    notify.StrategyColumn,
		Column:      "nonexistent",
	}

	_, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("p1", nil))

	var configErr *notify.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, notify.TableProject, configErr.Table)
}

func TestResolver_LinkColumnYieldsAtMostOne(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeProjectAssigned,
		Strategy:    notify.StrategyLinkColumn,
		Column:      notify.ColumnProjectManager,
	}

	withManager := mock.NewRecord("p1", map[string]any{notify.ColumnProjectManager: "alice"})
	audience, err := resolver.Resolve(context.Background(), rule, withManager)
	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice"}, audience.Members())

	// 链接为空串时受众为空,不报错
	unassigned := mock.NewRecord("p2", map[string]any{notify.ColumnProjectManager: ""})
	audience, err = resolver.Resolve(context.Background(), rule, unassigned)
	require.NoError(t, err)
	assert.True(t, audience.Empty())
}

func TestResolver_PermissionStrategyGateClosed(t *testing.T) {
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.PermissionShowLateEstimates, "estimator")
	permissions.Assign("estimator", "alice")
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.DefaultCatalog().ForTable(notify.TableProject)[0]
	require.Equal(t, notify.TypeLateEstimate, rule.Type)

	// estimateLate 为假:门控关闭,受众为空
	closed := mock.NewRecord("p1", map[string]any{notify.ColumnEstimateLate: false})
	audience, err := resolver.Resolve(context.Background(), rule, closed)
	require.NoError(t, err)
	assert.True(t, audience.Empty())

	// estimateLate 为真:权限持有者全体入选
	open := mock.NewRecord("p1", map[string]any{notify.ColumnEstimateLate: true})
	audience, err = resolver.Resolve(context.Background(), rule, open)
	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice"}, audience.Members())
}

func TestResolver_PermissionWithoutRolesIsEmptyNotError(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeLateEstimate,
		Strategy:    notify.StrategyPermission,
		Permission:  "granted-to-nobody",
	}

	audience, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("p1", nil))

	require.NoError(t, err)
	assert.True(t, audience.Empty())
}

func TestResolver_CategoryManagerUnionAcrossTags(t *testing.T) {
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.CategoryPermission("roofing"), "roofing-lead")
	permissions.Grant(notify.CategoryPermission("glazing"), "glazing-lead")
	permissions.Assign("roofing-lead", "alice", "bob")
	permissions.Assign("glazing-lead", "bob", "carol")
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableSurvey,
		Type:        notify.TypeSurveyReview,
		Strategy:    notify.StrategyCategoryManager,
		Categories:  func(record notify.RecordSnapshot) []string { return record.StringList(notify.ColumnCategories) },
	}
	record := mock.NewRecord("s1", map[string]any{
		notify.ColumnCategories: []any{"roofing", "glazing"},
	})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice", "bob", "carol"}, audience.Members())
}

func TestResolver_UserColumnPermissionUnion(t *testing.T) {
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.PermissionApproveQuotes, "approver")
	permissions.Assign("approver", "boss")
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableQuote,
		Type:        notify.TypeQuoteSubmitted,
		Strategy:    notify.StrategyUserColumnPermission,
		Column:      notify.ColumnAddressedTo,
		Permission:  notify.PermissionApproveQuotes,
	}
	record := mock.NewRecord("q1", map[string]any{notify.ColumnAddressedTo: "alice"})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice", "boss"}, audience.Members())
}

func TestResolver_UserColumnPermissionMissingColumnIsConfigurationError(t *testing.T) {
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.PermissionApproveQuotes, "approver")
	permissions.Assign("approver", "boss")
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableQuote,
		Type:        notify.TypeQuoteSubmitted,
		Strategy:    notify.StrategyUserColumnPermission,
		Column:      notify.ColumnAddressedTo,
		Permission:  notify.PermissionApproveQuotes,
	}

	_, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("q1", nil))

	var configErr *notify.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, notify.TableQuote, configErr.Table)
}

func TestResolver_QuoteRequestedBySingleRecipient(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableQuote,
		Type:        notify.TypeQuoteApproved,
		Strategy:    notify.StrategyQuoteRequestedBy,
		Column:      notify.ColumnRequestedBy,
	}
	record := mock.NewRecord("q1", map[string]any{notify.ColumnRequestedBy: "dave"})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"dave"}, audience.Members())
}

func TestResolver_ProjectRoleFiltersPersonnelByGrantedRoles(t *testing.T) {
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.PermissionReceiveHandoffs, "foreman", "superintendent")
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeHandoffReady,
		Strategy:    notify.StrategyProjectRole,
		Permission:  notify.PermissionReceiveHandoffs,
	}
	record := mock.NewRecord("p1", map[string]any{
		notify.ColumnPersonnel: []any{
			map[string]any{"user": "alice", "role": "foreman"},
			map[string]any{"user": "bob", "role": "accountant"},
			map[string]any{"user": "carol", "role": "superintendent"},
		},
	})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice", "carol"}, audience.Members())
}

func TestResolver_RelatedProjectRoleJoinsParentPersonnel(t *testing.T) {
	records := &mock.MockRecordStore{}
	records.SetRelated(notify.TableProjectPersonnel, notify.ColumnProject, "p1", []notify.RecordSnapshot{
		mock.NewRecord("pp1", map[string]any{"user": "alice", "role": "foreman", notify.ColumnProject: "p1"}),
		mock.NewRecord("pp2", map[string]any{"user": "bob", "role": "clerk", notify.ColumnProject: "p1"}),
	})
	permissions := &mock.MockPermissionStore{}
	permissions.Grant(notify.PermissionManageDetailSheets, "foreman")
	resolver := newResolver(records, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableDetailSheet,
		Type:        notify.TypeDetailSheetsDone,
		Strategy:    notify.StrategyRelatedProjectRole,
		Permission:  notify.PermissionManageDetailSheets,
	}
	record := mock.NewRecord("d1", map[string]any{notify.ColumnProject: "p1"})

	audience, err := resolver.Resolve(context.Background(), rule, record)

	require.NoError(t, err)
	assert.Equal(t, []notify.RecipientID{"alice"}, audience.Members())
}

func TestResolver_GateLookupFailureBecomesLookupError(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeHandoffReady,
		Strategy:    notify.StrategyProjectRole,
		Permission:  notify.PermissionReceiveHandoffs,
		Gate: func(ctx context.Context, record notify.RecordSnapshot, records notify.RecordStore) (bool, error) {
			return false, errors.New("store unavailable")
		},
	}

	_, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("p1", nil))

	var lookupErr *notify.LookupError
	require.ErrorAs(t, err, &lookupErr)
}

func TestResolver_PermissionStoreFailureBecomesLookupError(t *testing.T) {
	permissions := &mock.MockPermissionStore{RolesErr: errors.New("connection refused")}
	resolver := newResolver(&mock.MockRecordStore{}, permissions)

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        notify.TypeLateEstimate,
		Strategy:    notify.StrategyPermission,
		Permission:  notify.PermissionShowLateEstimates,
	}

	_, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("p1", map[string]any{notify.ColumnEstimateLate: true}))

	var lookupErr *notify.LookupError
	require.ErrorAs(t, err, &lookupErr)
}

func TestResolver_UnknownStrategyIsConfigurationError(t *testing.T) {
	resolver := newResolver(&mock.MockRecordStore{}, &mock.MockPermissionStore{})

	rule := notify.AudienceRule{
		SourceTable: notify.TableProject,
		Type:        "custom",
		Strategy:    notify.StrategyKind("made-up"),
	}

	_, err := resolver.Resolve(context.Background(), rule, mock.NewRecord("p1", nil))

	var configErr *notify.ConfigurationError
	require.ErrorAs(t, err, &configErr)
}
