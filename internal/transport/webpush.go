package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 常量定义 ====================

const (
	defaultPushTTL = 86400
)

// ==================== WebPushTransport 结构 ====================

// Config 推送传输配置
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	Timeout         time.Duration
}

// WebPushTransport 标准 Web Push 协议传输
// 用 VAPID 密钥对负载加密投递到浏览器推送服务
type WebPushTransport struct {
	config Config
	client *http.Client
}

// NewWebPushTransport 创建推送传输
func NewWebPushTransport(config Config) *WebPushTransport {
	if config.TTL <= 0 {
		config.TTL = defaultPushTTL
	}

	return &WebPushTransport{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// ==================== 投递接口 ====================

// Deliver 向单个端点投递负载
// 返回分类后的 *notify.PushError:端点失效类状态码记协议级(永久),
// 网络故障与服务端瞬时错误记传输级
func (transport *WebPushTransport) Deliver(ctx context.Context, endpoint notify.PushEndpoint, payload []byte) error {
	subscription := &webpush.Subscription{
		Endpoint: endpoint.Endpoint,
		Keys: webpush.Keys{
			P256dh: endpoint.P256dh,
			Auth:   endpoint.Auth,
		},
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, subscription, &webpush.Options{
		HTTPClient:      transport.client,
		TTL:             transport.config.TTL,
		Subscriber:      transport.config.Subscriber,
		VAPIDPublicKey:  transport.config.VAPIDPublicKey,
		VAPIDPrivateKey: transport.config.VAPIDPrivateKey,
	})
	if err != nil {
		return &notify.PushError{
			Kind: notify.PushTransportError,
			Err:  fmt.Errorf("send to %s: %w", endpoint.Endpoint, err),
		}
	}
	defer response.Body.Close()

	return classifyStatus(response.StatusCode, endpoint.Endpoint)
}

// classifyStatus 按推送服务的响应状态码分类投递结果
func classifyStatus(statusCode int, endpointURL string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		// 端点已退订或失效,重试无意义
		return &notify.PushError{
			Kind:       notify.PushProtocolError,
			StatusCode: statusCode,
			Err:        fmt.Errorf("endpoint %s no longer valid", endpointURL),
		}

	case statusCode == http.StatusTooManyRequests:
		return &notify.PushError{
			Kind:       notify.PushTransportError,
			StatusCode: statusCode,
			Err:        fmt.Errorf("push service throttled delivery to %s", endpointURL),
		}

	case statusCode >= 400 && statusCode < 500:
		return &notify.PushError{
			Kind:       notify.PushProtocolError,
			StatusCode: statusCode,
			Err:        fmt.Errorf("push service rejected delivery to %s", endpointURL),
		}

	default:
		return &notify.PushError{
			Kind:       notify.PushTransportError,
			StatusCode: statusCode,
			Err:        fmt.Errorf("push service error for %s", endpointURL),
		}
	}
}
