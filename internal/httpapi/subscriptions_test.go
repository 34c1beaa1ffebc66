package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/httpapi"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// stubSubscriptionStore 订阅存储的内存伪实现
type stubSubscriptionStore struct {
	endpoints map[notify.RecipientID][]notify.PushEndpoint
	removed   []string
	addErr    error
	listErr   error
}

func newStubSubscriptionStore() *stubSubscriptionStore {
	return &stubSubscriptionStore{
		endpoints: make(map[notify.RecipientID][]notify.PushEndpoint),
	}
}

func (store *stubSubscriptionStore) Add(ctx context.Context, userID notify.RecipientID, endpointURL, p256dh, auth string) (notify.PushEndpoint, error) {
	if store.addErr != nil {
		return notify.PushEndpoint{}, store.addErr
	}

	endpoint := notify.PushEndpoint{
		ID:       fmt.Sprintf("ep-%d", len(store.endpoints[userID])+1),
		UserID:   userID,
		Endpoint: endpointURL,
		P256dh:   p256dh,
		Auth:     auth,
	}
	store.endpoints[userID] = append(store.endpoints[userID], endpoint)
	return endpoint, nil
}

func (store *stubSubscriptionStore) Remove(ctx context.Context, endpointID string) error {
	store.removed = append(store.removed, endpointID)
	return nil
}

func (store *stubSubscriptionStore) EndpointsFor(ctx context.Context, recipient notify.RecipientID) ([]notify.PushEndpoint, error) {
	if store.listErr != nil {
		return nil, store.listErr
	}
	return store.endpoints[recipient], nil
}

func subscribeBody(userID, endpoint string) string {
	return fmt.Sprintf(`{"user_id":%q,"endpoint":%q,"keys":{"p256dh":"pk","auth":"ak"}}`, userID, endpoint)
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	return response
}

func TestSubscribeRegistersEndpoint(t *testing.T) {
	store := newStubSubscriptionStore()
	handler := httpapi.NewSubscriptionsHandler(store)

	request := httptest.NewRequest(http.MethodPost, "/v1/subscriptions",
		strings.NewReader(subscribeBody("alice", "https://push.example.com/abc")))
	recorder := httptest.NewRecorder()

	handler.HandleSubscribe(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	response := decodeResponse(t, recorder)
	assert.Equal(t, true, response["success"])

	endpoints := store.endpoints[notify.RecipientID("alice")]
	require.Len(t, endpoints, 1)
	assert.Equal(t, "https://push.example.com/abc", endpoints[0].Endpoint)
	assert.Equal(t, "pk", endpoints[0].P256dh)
}

func TestSubscribeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"缺少用户", `{"endpoint":"https://p/e","keys":{"p256dh":"pk","auth":"ak"}}`},
		{"缺少端点", `{"user_id":"alice","keys":{"p256dh":"pk","auth":"ak"}}`},
		{"缺少密钥", `{"user_id":"alice","endpoint":"https://p/e","keys":{"p256dh":"pk"}}`},
		{"非法JSON", `{`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newStubSubscriptionStore()
			handler := httpapi.NewSubscriptionsHandler(store)

			request := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(test.body))
			recorder := httptest.NewRecorder()

			handler.HandleSubscribe(recorder, request)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Empty(t, store.endpoints)
		})
	}
}

func TestListEndpointsHidesAuthKeys(t *testing.T) {
	store := newStubSubscriptionStore()
	_, err := store.Add(context.Background(), "alice", "https://push.example.com/abc", "pk", "ak")
	require.NoError(t, err)

	handler := httpapi.NewSubscriptionsHandler(store)

	request := httptest.NewRequest(http.MethodGet, "/v1/subscriptions?user_id=alice", nil)
	recorder := httptest.NewRecorder()

	handler.HandleList(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	body := recorder.Body.String()
	assert.Contains(t, body, "https://push.example.com/abc")
	assert.NotContains(t, body, `"pk"`)
	assert.NotContains(t, body, `"ak"`)
}

func TestListEndpointsRequiresUserID(t *testing.T) {
	handler := httpapi.NewSubscriptionsHandler(newStubSubscriptionStore())

	request := httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
	recorder := httptest.NewRecorder()

	handler.HandleList(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUnsubscribeRemovesEndpoint(t *testing.T) {
	store := newStubSubscriptionStore()
	handler := httpapi.NewSubscriptionsHandler(store)

	request := httptest.NewRequest(http.MethodDelete, "/v1/subscriptions?id=ep-1", nil)
	recorder := httptest.NewRecorder()

	handler.HandleUnsubscribe(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"ep-1"}, store.removed)
}

func TestSubscribeMethodNotAllowed(t *testing.T) {
	handler := httpapi.NewSubscriptionsHandler(newStubSubscriptionStore())

	request := httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
	recorder := httptest.NewRecorder()

	handler.HandleSubscribe(recorder, request)

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
