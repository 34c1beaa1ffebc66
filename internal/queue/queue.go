package queue

import "context"

// Enqueuer 消息入队能力
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
	Close()
}

// Consumer 消息消费能力
type Consumer interface {
	Run() error
	Stop()
}
