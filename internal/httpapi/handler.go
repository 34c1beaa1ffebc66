package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// ==================== 常量定义 ====================

const (
	maxRequestBodySize = 1 << 20 // 1MB
)

// ==================== 响应辅助函数 ====================

// setCORS 设置跨域响应头
func setCORS(writer http.ResponseWriter, allowedMethods string) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")
	writer.Header().Set("Access-Control-Allow-Methods", allowedMethods)
	writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
}

// writeError 写入错误响应
func writeError(writer http.ResponseWriter, message string, statusCode int) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)

	_ = json.NewEncoder(writer).Encode(map[string]interface{}{
		"success":   false,
		"code":      statusCode,
		"msg":       message,
		"timestamp": time.Now().Unix(),
	})
}

// writeSuccess 写入成功响应
func writeSuccess(writer http.ResponseWriter, data interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(writer).Encode(map[string]interface{}{
		"success":   true,
		"code":      http.StatusOK,
		"msg":       "success",
		"data":      data,
		"timestamp": time.Now().Unix(),
	})
}

// decodeJSONBody 解析请求体 JSON,带体积上限
func decodeJSONBody(writer http.ResponseWriter, request *http.Request, target interface{}) error {
	request.Body = http.MaxBytesReader(writer, request.Body, maxRequestBodySize)
	return json.NewDecoder(request.Body).Decode(target)
}
