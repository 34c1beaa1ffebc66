package main

import (
	"context"
	"log"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/queue"
)

//
// 变更事件队列消费者
//

// ChangeEventConsumerManager 变更事件消费者管理器
// 从 NSQ 读取上游记录变更,驱动通知分发流水线
type ChangeEventConsumerManager struct {
	appContext *AppContext
	pipeline   *notify.Pipeline
}

// NewChangeEventConsumerManager 创建消费者管理器实例
func NewChangeEventConsumerManager(appContext *AppContext) *ChangeEventConsumerManager {
	return &ChangeEventConsumerManager{
		appContext: appContext,
		pipeline:   appContext.Pipeline,
	}
}

// Start 启动变更事件消费者
func (manager *ChangeEventConsumerManager) Start() {
	if !manager.isConsumerEnabled() {
		log.Println("[ChangeConsumer] 消费者未启用,跳过启动")
		return
	}

	consumer := manager.createConsumer()
	manager.attachDeadLetterQueue(consumer)
	manager.runConsumerInBackground(consumer)

	log.Println("[ChangeConsumer] 变更事件消费者启动成功")
}

// isConsumerEnabled 检查消费者是否启用
func (manager *ChangeEventConsumerManager) isConsumerEnabled() bool {
	return manager.appContext.Config.NSQ.ConsumerEnabled
}

// createConsumer 创建消费者实例
func (manager *ChangeEventConsumerManager) createConsumer() *queue.NSQConsumer {
	nsqConfig := manager.appContext.Config.NSQ

	consumer, err := queue.NewNSQConsumer(queue.ConsumerConfig{
		Topic:                nsqConfig.Topic,
		Channel:              nsqConfig.Channel,
		MaxInFlight:          nsqConfig.MaxInFlight,
		Concurrency:          nsqConfig.Concurrency,
		NsqdAddresses:        nsqConfig.NsqdTCPAddrs,
		LookupdAddresses:     nsqConfig.LookupdHTTPAddrs,
		DLQTopic:             nsqConfig.DLQTopic,
		MaxAttemptsBeforeDLQ: uint16(nsqConfig.MaxConsumeAttemptsBeforeDLQ),
		MessageHandleTimeout: manager.appContext.Config.App.RequestTimeout,
		Handler:              manager.handleChangeEvent,
	})

	if err != nil {
		log.Fatalf("[ChangeConsumer] 创建消费者失败: %v", err)
	}

	return consumer
}

// handleChangeEvent 处理单条变更事件
// 解码失败返回错误交由 NSQ 重试,最终由死信队列兜底;
// 分发本身对调用方永不失败,消息一定被确认
func (manager *ChangeEventConsumerManager) handleChangeEvent(ctx context.Context, payload []byte, attempts uint16) error {
	event, err := notify.DecodeChangeEvent(payload)
	if err != nil {
		log.Printf("[ChangeConsumer] 事件解码失败(尝试:%d): %v", attempts, err)
		return err
	}

	log.Printf("[ChangeConsumer] 处理变更事件: table=%s, actor=%s (尝试:%d)",
		event.Table, event.Actor, attempts)

	reports := manager.pipeline.OnRecordChanged(ctx, event.Table, event.Actor, event.Old, event.New)
	log.Printf("[ChangeConsumer] 分发完成: table=%s, 扇出 %d 次", event.Table, len(reports))

	return nil
}

// attachDeadLetterQueue 附加死信队列
// 用于兜住反复解码失败的消息
func (manager *ChangeEventConsumerManager) attachDeadLetterQueue(consumer *queue.NSQConsumer) {
	nsqConfig := manager.appContext.Config.NSQ

	if len(nsqConfig.NsqdTCPAddrs) == 0 || nsqConfig.DLQTopic == "" {
		return
	}

	if err := consumer.AttachDLQProducer(nsqConfig.NsqdTCPAddrs[0]); err != nil {
		log.Fatalf("[ChangeConsumer] 附加死信队列失败: %v", err)
	}

	log.Printf("[ChangeConsumer] 死信队列附加成功: %s", nsqConfig.DLQTopic)
}

// runConsumerInBackground 在后台运行消费者
func (manager *ChangeEventConsumerManager) runConsumerInBackground(consumer *queue.NSQConsumer) {
	go func() {
		if err := consumer.Run(); err != nil {
			log.Fatalf("[ChangeConsumer] 消费者运行失败: %v", err)
		}
	}()
}

//
// 外部调用接口
//

// startChangeEventConsumer 启动变更事件消费者
func startChangeEventConsumer(app *AppContext) {
	manager := NewChangeEventConsumerManager(app)
	manager.Start()
}
