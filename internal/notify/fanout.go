package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ==================== 常量定义 ====================

const (
	// defaultFanoutWorkers 接收人并发扇出默认上限
	defaultFanoutWorkers = 8

	// defaultPushTimeout 单端点投递默认超时
	defaultPushTimeout = 10 * time.Second
)

// ==================== Fanout 结构 ====================

// Fanout 推送扇出器
// 把一份负载投递给一组接收人的全部端点,端点间、接收人间失败互相隔离
type Fanout struct {
	subscriptions SubscriptionStore
	transport     Transport
	reporter      Reporter
	workers       int
	pushTimeout   time.Duration
}

// NewFanout 创建扇出器
func NewFanout(subscriptions SubscriptionStore, transport Transport, reporter Reporter, workers int, pushTimeout time.Duration) *Fanout {
	if workers <= 0 {
		workers = defaultFanoutWorkers
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	if reporter == nil {
		reporter = NopReporter{}
	}

	return &Fanout{
		subscriptions: subscriptions,
		transport:     transport,
		reporter:      reporter,
		workers:       workers,
		pushTimeout:   pushTimeout,
	}
}

// ==================== 扇出主流程 ====================

// Dispatch 向全部接收人扇出负载
// 接收人之间有界并发,同一接收人的端点顺序投递;
// 任何失败都转为结果条目并上报,绝不中断兄弟分支
func (fanout *Fanout) Dispatch(ctx context.Context, recipients RecipientSet, payload Payload) DispatchReport {
	report := DispatchReport{
		Type:       payload.Type,
		RecordID:   payload.ID,
		Label:      payload.Label,
		Recipients: recipients.Len(),
		CreatedAt:  time.Now().Unix(),
	}

	if recipients.Empty() {
		return report
	}

	body, err := json.Marshal(payload)
	if err != nil {
		// 负载是三字段字符串结构,正常情况下不可能失败
		fanout.reporter.Report(err, map[string]any{"type": payload.Type, "id": payload.ID})
		return report
	}

	var mutex sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fanout.workers)

	for _, recipient := range recipients.Members() {
		recipient := recipient

		group.Go(func() error {
			outcomes := fanout.deliverToRecipient(groupCtx, recipient, payload, body)

			mutex.Lock()
			report.Outcomes = append(report.Outcomes, outcomes...)
			mutex.Unlock()
			return nil
		})
	}

	// 分支全部自行消化失败,这里不会收到错误
	_ = group.Wait()

	report.Tally()
	log.Printf("[FANOUT] 类型 %s 记录 %s: 接收人 %d, 成功 %d, 瞬时失败 %d, 永久失败 %d",
		report.Type, report.RecordID, report.Recipients,
		report.Delivered, report.Transient, report.Permanent)

	return report
}

// deliverToRecipient 单接收人投递:现查端点列表,逐端点推送
func (fanout *Fanout) deliverToRecipient(ctx context.Context, recipient RecipientID, payload Payload, body []byte) []EndpointOutcome {
	listCtx, cancel := context.WithTimeout(ctx, fanout.pushTimeout)
	endpoints, err := fanout.subscriptions.EndpointsFor(listCtx, recipient)
	cancel()

	if err != nil {
		lookupErr := NewLookupError("endpoints of "+string(recipient), err)
		fanout.reporter.Report(lookupErr, map[string]any{
			"recipient": string(recipient),
			"type":      payload.Type,
		})

		// 接收人级失败:端点标识留空
		return []EndpointOutcome{{
			Recipient: recipient,
			Kind:      OutcomeTransientFailure,
			Detail:    lookupErr.Error(),
		}}
	}

	// 无端点是常态(用户从未订阅),静默跳过
	if len(endpoints) == 0 {
		return nil
	}

	outcomes := make([]EndpointOutcome, 0, len(endpoints))
	for _, endpoint := range endpoints {
		outcomes = append(outcomes, fanout.deliverToEndpoint(ctx, endpoint, payload, body))
	}

	return outcomes
}

// deliverToEndpoint 单端点投递并分类结果
func (fanout *Fanout) deliverToEndpoint(ctx context.Context, endpoint PushEndpoint, payload Payload, body []byte) EndpointOutcome {
	outcome := EndpointOutcome{
		Recipient:  endpoint.UserID,
		EndpointID: endpoint.ID,
		Endpoint:   endpoint.Endpoint,
		Kind:       OutcomeDelivered,
	}

	pushCtx, cancel := context.WithTimeout(ctx, fanout.pushTimeout)
	defer cancel()

	err := fanout.transport.Deliver(pushCtx, endpoint, body)
	if err == nil {
		return outcome
	}

	outcome.Kind = classifyDeliveryError(err)
	outcome.Detail = err.Error()

	fanout.reporter.Report(err, map[string]any{
		"recipient": string(endpoint.UserID),
		"endpoint":  endpoint.ID,
		"type":      payload.Type,
		"kind":      string(outcome.Kind),
	})

	return outcome
}

// classifyDeliveryError 投递错误分类
// 协议级 PushError 视为永久失败,其余(含超时)一律按瞬时处理
func classifyDeliveryError(err error) OutcomeKind {
	var pushErr *PushError
	if errors.As(err, &pushErr) && pushErr.Permanent() {
		return OutcomePermanentFailure
	}
	return OutcomeTransientFailure
}
