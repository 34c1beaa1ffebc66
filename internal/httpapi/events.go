package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 接口定义 ====================

// Dispatcher 变更事件的同步分发能力
type Dispatcher interface {
	OnRecordChanged(ctx context.Context, table, actor string, oldRecord, newRecord notify.RecordSnapshot) []notify.DispatchReport
}

// EventEnqueuer 变更事件的异步入队能力
type EventEnqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// ==================== Handler 处理器 ====================

// EventsHandler 记录变更事件入口处理器
// 处理 /v1/events:默认异步入队,mode=sync 时就地分发并返回结果
type EventsHandler struct {
	dispatcher Dispatcher
	enqueuer   EventEnqueuer
}

// NewEventsHandler 创建事件处理器
// enqueuer 可为 nil,此时只支持同步模式
func NewEventsHandler(dispatcher Dispatcher, enqueuer EventEnqueuer) *EventsHandler {
	return &EventsHandler{
		dispatcher: dispatcher,
		enqueuer:   enqueuer,
	}
}

// ==================== HTTP 处理方法 ====================

// HandleEvent 处理变更事件提交
// POST /v1/events?mode=sync|async
func (handler *EventsHandler) HandleEvent(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "POST, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodPost {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event notify.ChangeEvent
	if err := decodeJSONBody(writer, request, &event); err != nil {
		writeError(writer, "请求格式错误: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := event.Validate(); err != nil {
		writeError(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if handler.isSyncMode(request) {
		handler.dispatchSync(writer, request, &event)
		return
	}

	handler.enqueueAsync(writer, request, &event)
}

// ==================== 私有辅助方法 ====================

// isSyncMode 判断是否为同步分发模式
// 未配置队列时一律退化为同步
func (handler *EventsHandler) isSyncMode(request *http.Request) bool {
	if handler.enqueuer == nil {
		return true
	}
	return request.URL.Query().Get("mode") == "sync"
}

// dispatchSync 同步执行分发并返回每条规则的扇出结果
func (handler *EventsHandler) dispatchSync(writer http.ResponseWriter, request *http.Request, event *notify.ChangeEvent) {
	reports := handler.dispatcher.OnRecordChanged(
		request.Context(),
		event.Table,
		event.Actor,
		event.Old,
		event.New,
	)

	log.Printf("[EVENTS] 同步分发完成: table=%s, 扇出 %d 次", event.Table, len(reports))

	if reports == nil {
		reports = []notify.DispatchReport{}
	}

	writeSuccess(writer, map[string]interface{}{
		"mode":    "sync",
		"table":   event.Table,
		"reports": reports,
	})
}

// enqueueAsync 将事件投入队列,由消费端异步分发
func (handler *EventsHandler) enqueueAsync(writer http.ResponseWriter, request *http.Request, event *notify.ChangeEvent) {
	payload, err := event.Encode()
	if err != nil {
		writeError(writer, "事件序列化失败", http.StatusInternalServerError)
		return
	}

	if err := handler.enqueuer.Enqueue(request.Context(), payload); err != nil {
		log.Printf("[EVENTS] 入队失败: table=%s, %v", event.Table, err)
		writeError(writer, "事件入队失败", http.StatusInternalServerError)
		return
	}

	log.Printf("[EVENTS] 入队成功: table=%s, actor=%s", event.Table, event.Actor)
	writeSuccess(writer, map[string]interface{}{
		"mode":  "async",
		"table": event.Table,
	})
}
