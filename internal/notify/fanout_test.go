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

func endpoint(id string, user notify.RecipientID) notify.PushEndpoint {
	return notify.PushEndpoint{
		ID:       id,
		UserID:   user,
		Endpoint: "https://push.example.com/" + id,
		P256dh:   "p256dh-" + id,
		Auth:     "auth-" + id,
	}
}

func newFanout(subscriptions *mock.MockSubscriptionStore, transport *mock.MockTransport, reporter notify.Reporter) *notify.Fanout {
	return notify.NewFanout(subscriptions, transport, reporter, 4, 2*time.Second)
}

func TestFanout_DeliversToEveryEndpoint(t *testing.T) {
	subscriptions := &mock.MockSubscriptionStore{}
	subscriptions.Register("alice", endpoint("ep1", "alice"), endpoint("ep2", "alice"))
	subscriptions.Register("bob", endpoint("ep3", "bob"))
	transport := &mock.MockTransport{}
	fanout := newFanout(subscriptions, transport, notify.NopReporter{})

	payload := notify.Payload{Type: notify.TypeLateEstimate, ID: "p1", Label: "Late Estimate"}
	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet("alice", "bob"), payload)

	assert.Equal(t, 2, report.Recipients)
	assert.Equal(t, 3, report.Delivered)
	assert.Zero(t, report.Transient)
	assert.Zero(t, report.Permanent)

	// 线上负载必须是 {type,id,label} 三字段 JSON
	payloads := transport.DeliveredTo("ep3")
	require.Len(t, payloads, 1)
	decoded, err := mock.DecodePayload(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestFanout_FailedEndpointDoesNotBlockSiblings(t *testing.T) {
	subscriptions := &mock.MockSubscriptionStore{}
	subscriptions.Register("alice",
		endpoint("ep1", "alice"), endpoint("ep2", "alice"), endpoint("ep3", "alice"))
	transport := &mock.MockTransport{}
	transport.Fail("ep2", &notify.PushError{Kind: notify.PushTransportError, Err: errors.New("connection reset")})
	reporter := &mock.CaptureReporter{}
	fanout := newFanout(subscriptions, transport, reporter)

	payload := notify.Payload{Type: notify.TypeProjectWatch, ID: "p1", Label: "Project Updated"}
	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet("alice"), payload)

	// 第 2 个端点失败,第 1、3 个仍然送达
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Transient)
	assert.Len(t, transport.DeliveredTo("ep1"), 1)
	assert.Len(t, transport.DeliveredTo("ep3"), 1)
	assert.Equal(t, 1, reporter.Count())
}

func TestFanout_ClassifiesProtocolVersusTransport(t *testing.T) {
	subscriptions := &mock.MockSubscriptionStore{}
	subscriptions.Register("alice", endpoint("gone", "alice"), endpoint("flaky", "alice"))
	transport := &mock.MockTransport{}
	transport.Fail("gone", &notify.PushError{Kind: notify.PushProtocolError, StatusCode: 410, Err: errors.New("gone")})
	transport.Fail("flaky", errors.New("dial tcp: i/o timeout"))
	fanout := newFanout(subscriptions, transport, notify.NopReporter{})

	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet("alice"),
		notify.Payload{Type: notify.TypeProjectWatch, ID: "p1", Label: "x"})

	// 协议级失败记永久,未分类错误按瞬时处理
	assert.Equal(t, 1, report.Permanent)
	assert.Equal(t, 1, report.Transient)
	assert.Zero(t, report.Delivered)
}

func TestFanout_RecipientLookupFailureIsIsolated(t *testing.T) {
	subscriptions := &mock.MockSubscriptionStore{
		ErrFor: map[notify.RecipientID]error{"alice": errors.New("redis down")},
	}
	subscriptions.Register("bob", endpoint("ep1", "bob"))
	transport := &mock.MockTransport{}
	reporter := &mock.CaptureReporter{}
	fanout := newFanout(subscriptions, transport, reporter)

	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet("alice", "bob"),
		notify.Payload{Type: notify.TypeProjectWatch, ID: "p1", Label: "x"})

	// alice 的端点查询失败不影响 bob
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Transient)
	assert.Equal(t, 1, reporter.Count())

	// 接收人级失败的结果条目端点标识为空
	var recipientLevel int
	for _, outcome := range report.Outcomes {
		if outcome.EndpointID == "" {
			recipientLevel++
			assert.Equal(t, notify.RecipientID("alice"), outcome.Recipient)
		}
	}
	assert.Equal(t, 1, recipientLevel)
}

func TestFanout_RecipientWithoutEndpointsIsSilentlySkipped(t *testing.T) {
	subscriptions := &mock.MockSubscriptionStore{}
	transport := &mock.MockTransport{}
	reporter := &mock.CaptureReporter{}
	fanout := newFanout(subscriptions, transport, reporter)

	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet("alice"),
		notify.Payload{Type: notify.TypeProjectWatch, ID: "p1", Label: "x"})

	assert.Equal(t, 1, report.Recipients)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, reporter.Count())
}

func TestFanout_EmptyAudienceProducesEmptyReport(t *testing.T) {
	transport := &mock.MockTransport{}
	fanout := newFanout(&mock.MockSubscriptionStore{}, transport, notify.NopReporter{})

	report := fanout.Dispatch(context.Background(), notify.NewRecipientSet(),
		notify.Payload{Type: notify.TypeProjectWatch, ID: "p1", Label: "x"})

	assert.Zero(t, report.Recipients)
	assert.Zero(t, transport.SendCalls)
}
