package test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ---- RecordStore Mock ----
type MockRecordStore struct {
	mu sync.Mutex

	// Related 键为 "table/filterColumn/value"
	Related map[string][]notify.RecordSnapshot
	// Scalars 键为 "table/column/id"
	Scalars map[string]string

	RelatedErr error
	ScalarErr  error
	ReadCalls  int
}

func relatedKey(table, filterColumn, value string) string { return table + "/" + filterColumn + "/" + value }
func scalarKey(table, column, id string) string           { return table + "/" + column + "/" + id }

func (s *MockRecordStore) SetRelated(table, filterColumn, value string, rows []notify.RecordSnapshot) {
	if s.Related == nil {
		s.Related = make(map[string][]notify.RecordSnapshot)
	}
	s.Related[relatedKey(table, filterColumn, value)] = rows
}

func (s *MockRecordStore) SetScalar(table, column, id, value string) {
	if s.Scalars == nil {
		s.Scalars = make(map[string]string)
	}
	s.Scalars[scalarKey(table, column, id)] = value
}

func (s *MockRecordStore) ReadRelated(ctx context.Context, table, filterColumn, value string) ([]notify.RecordSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCalls++
	if s.RelatedErr != nil {
		return nil, s.RelatedErr
	}
	return s.Related[relatedKey(table, filterColumn, value)], nil
}

func (s *MockRecordStore) ReadScalar(ctx context.Context, table, column, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCalls++
	if s.ScalarErr != nil {
		return "", false, s.ScalarErr
	}
	value, ok := s.Scalars[scalarKey(table, column, id)]
	return value, ok, nil
}

// ---- PermissionStore Mock ----
type MockPermissionStore struct {
	mu sync.Mutex

	// Roles 权限 → 授予角色
	Roles map[string][]string
	// Users 角色 → 持有用户
	Users map[string][]notify.RecipientID

	RolesErr error
	UsersErr error
}

func (s *MockPermissionStore) Grant(permission string, roles ...string) {
	if s.Roles == nil {
		s.Roles = make(map[string][]string)
	}
	s.Roles[permission] = append(s.Roles[permission], roles...)
}

func (s *MockPermissionStore) Assign(role string, users ...notify.RecipientID) {
	if s.Users == nil {
		s.Users = make(map[string][]notify.RecipientID)
	}
	s.Users[role] = append(s.Users[role], users...)
}

func (s *MockPermissionStore) RolesGranting(ctx context.Context, permission string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RolesErr != nil {
		return nil, s.RolesErr
	}
	return s.Roles[permission], nil
}

func (s *MockPermissionStore) UsersWithAnyRole(ctx context.Context, roles []string) (notify.RecipientSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UsersErr != nil {
		return nil, s.UsersErr
	}
	set := notify.NewRecipientSet()
	for _, role := range roles {
		for _, user := range s.Users[role] {
			set.Add(user)
		}
	}
	return set, nil
}

// ---- SubscriptionStore Mock ----
type MockSubscriptionStore struct {
	mu        sync.Mutex
	Endpoints map[notify.RecipientID][]notify.PushEndpoint
	Err       error
	// ErrFor 仅对指定接收人返回错误
	ErrFor map[notify.RecipientID]error
}

func (s *MockSubscriptionStore) Register(recipient notify.RecipientID, endpoints ...notify.PushEndpoint) {
	if s.Endpoints == nil {
		s.Endpoints = make(map[notify.RecipientID][]notify.PushEndpoint)
	}
	s.Endpoints[recipient] = append(s.Endpoints[recipient], endpoints...)
}

func (s *MockSubscriptionStore) EndpointsFor(ctx context.Context, recipient notify.RecipientID) ([]notify.PushEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if err, ok := s.ErrFor[recipient]; ok {
		return nil, err
	}
	return s.Endpoints[recipient], nil
}

// ---- Transport Mock ----
type MockTransport struct {
	mu sync.Mutex

	// FailEndpoints 端点 ID → 注入的投递错误
	FailEndpoints map[string]error

	SendCalls  int
	Deliveries []MockDelivery
}

type MockDelivery struct {
	Endpoint notify.PushEndpoint
	Payload  []byte
}

func (t *MockTransport) Fail(endpointID string, err error) {
	if t.FailEndpoints == nil {
		t.FailEndpoints = make(map[string]error)
	}
	t.FailEndpoints[endpointID] = err
}

func (t *MockTransport) Deliver(ctx context.Context, endpoint notify.PushEndpoint, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SendCalls++
	if err, ok := t.FailEndpoints[endpoint.ID]; ok {
		return err
	}
	t.Deliveries = append(t.Deliveries, MockDelivery{Endpoint: endpoint, Payload: payload})
	return nil
}

// DeliveredTo 返回成功投递到指定端点的负载列表
func (t *MockTransport) DeliveredTo(endpointID string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var payloads [][]byte
	for _, delivery := range t.Deliveries {
		if delivery.Endpoint.ID == endpointID {
			payloads = append(payloads, delivery.Payload)
		}
	}
	return payloads
}

// ---- Reporter Mock ----
type CaptureReporter struct {
	mu       sync.Mutex
	Errors   []error
	Contexts []map[string]any
}

func (r *CaptureReporter) Report(err error, context map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Contexts = append(r.Contexts, context)
}

func (r *CaptureReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors)
}

// ---- DispatchLog Mock ----
type MockDispatchLog struct {
	mu      sync.Mutex
	Reports []notify.DispatchReport
	Err     error
}

func (l *MockDispatchLog) SaveReport(ctx context.Context, report notify.DispatchReport) error {
	if l.Err != nil {
		return l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Reports = append(l.Reports, report)
	return nil
}

func (l *MockDispatchLog) Trim(ctx context.Context) (int, error) {
	return 0, l.Err
}

func DecodePayload(b []byte) (notify.Payload, error) {
	var p notify.Payload
	err := json.Unmarshal(b, &p)
	return p, err
}

// ---- Helper: 最小可用记录快照 ----
func NewRecord(id string, extra map[string]any) notify.RecordSnapshot {
	columns := map[string]any{
		notify.ColumnID:            id,
		notify.ColumnRecordVersion: float64(1),
	}
	for key, value := range extra {
		columns[key] = value
	}
	return notify.NewRecordSnapshot(columns)
}

// Tombstone 墓碑快照(记录不存在的一侧)
func Tombstone() notify.RecordSnapshot {
	return notify.RecordSnapshot{}
}
