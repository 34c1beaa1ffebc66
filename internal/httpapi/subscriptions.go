package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 接口定义 ====================

// SubscriptionManager 订阅存储的读写接口
type SubscriptionManager interface {
	Add(ctx context.Context, userID notify.RecipientID, endpointURL, p256dh, auth string) (notify.PushEndpoint, error)
	Remove(ctx context.Context, endpointID string) error
	EndpointsFor(ctx context.Context, recipient notify.RecipientID) ([]notify.PushEndpoint, error)
}

// ==================== 数据模型 ====================

// subscribeRequest 订阅注册请求
// 与浏览器 PushSubscription.toJSON() 的形状对齐
type subscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// ==================== Handler 处理器 ====================

// SubscriptionsHandler 推送订阅管理处理器
// 处理 /v1/subscriptions 下的注册、查询与注销
type SubscriptionsHandler struct {
	store SubscriptionManager
}

// NewSubscriptionsHandler 创建订阅处理器
func NewSubscriptionsHandler(store SubscriptionManager) *SubscriptionsHandler {
	return &SubscriptionsHandler{store: store}
}

// ==================== HTTP 处理方法 ====================

// HandleSubscribe 处理订阅注册
// POST /v1/subscriptions
func (handler *SubscriptionsHandler) HandleSubscribe(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "POST, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodPost {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var subscribe subscribeRequest
	if err := decodeJSONBody(writer, request, &subscribe); err != nil {
		writeError(writer, "请求格式错误: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateSubscribeRequest(subscribe); err != "" {
		writeError(writer, err, http.StatusBadRequest)
		return
	}

	endpoint, err := handler.store.Add(
		request.Context(),
		notify.RecipientID(subscribe.UserID),
		subscribe.Endpoint,
		subscribe.Keys.P256dh,
		subscribe.Keys.Auth,
	)
	if err != nil {
		log.Printf("[SUBSCRIPTIONS] 注册失败: user=%s, %v", subscribe.UserID, err)
		writeError(writer, "订阅注册失败", http.StatusInternalServerError)
		return
	}

	log.Printf("[SUBSCRIPTIONS] 注册成功: user=%s, endpoint=%s", subscribe.UserID, endpoint.ID)
	writeSuccess(writer, map[string]interface{}{
		"id":         endpoint.ID,
		"user_id":    endpoint.UserID,
		"created_at": endpoint.CreatedAt,
	})
}

// HandleList 处理订阅查询
// GET /v1/subscriptions?user_id=xxx
func (handler *SubscriptionsHandler) HandleList(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "GET, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodGet {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := request.URL.Query().Get("user_id")
	if userID == "" {
		writeError(writer, "user_id is required", http.StatusBadRequest)
		return
	}

	endpoints, err := handler.store.EndpointsFor(request.Context(), notify.RecipientID(userID))
	if err != nil {
		log.Printf("[SUBSCRIPTIONS] 查询失败: user=%s, %v", userID, err)
		writeError(writer, "查询订阅失败", http.StatusInternalServerError)
		return
	}

	writeSuccess(writer, map[string]interface{}{
		"total":     len(endpoints),
		"endpoints": formatEndpoints(endpoints),
	})
}

// HandleUnsubscribe 处理订阅注销
// DELETE /v1/subscriptions?id=xxx
// 端点不存在时同样返回成功(幂等注销)
func (handler *SubscriptionsHandler) HandleUnsubscribe(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "DELETE, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodDelete {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpointID := request.URL.Query().Get("id")
	if endpointID == "" {
		writeError(writer, "id is required", http.StatusBadRequest)
		return
	}

	if err := handler.store.Remove(request.Context(), endpointID); err != nil {
		log.Printf("[SUBSCRIPTIONS] 注销失败: endpoint=%s, %v", endpointID, err)
		writeError(writer, "订阅注销失败", http.StatusInternalServerError)
		return
	}

	log.Printf("[SUBSCRIPTIONS] 注销成功: endpoint=%s", endpointID)
	writeSuccess(writer, map[string]interface{}{
		"id": endpointID,
	})
}

// ==================== 私有辅助方法 ====================

// validateSubscribeRequest 校验注册请求,返回空串表示合法
func validateSubscribeRequest(subscribe subscribeRequest) string {
	if subscribe.UserID == "" {
		return "user_id is required"
	}
	if subscribe.Endpoint == "" {
		return "endpoint is required"
	}
	if subscribe.Keys.P256dh == "" || subscribe.Keys.Auth == "" {
		return "keys.p256dh and keys.auth are required"
	}
	return ""
}

// formatEndpoints 格式化端点列表用于 API 响应
// 认证密钥不透出,只返回标识与地址信息
func formatEndpoints(endpoints []notify.PushEndpoint) []map[string]interface{} {
	formatted := make([]map[string]interface{}, len(endpoints))

	for index, endpoint := range endpoints {
		formatted[index] = map[string]interface{}{
			"id":         endpoint.ID,
			"user_id":    endpoint.UserID,
			"endpoint":   endpoint.Endpoint,
			"created_at": endpoint.CreatedAt,
		}
	}

	return formatted
}
