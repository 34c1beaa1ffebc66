package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 常量定义 ====================

const (
	defaultPage          = 1
	defaultPageSize      = 20
	maxPageSize          = 100
	maxQueryLimit        = 2000
	hoursInDay           = 24
	defaultDeliveredRate = 0.0
	timestampLayout      = "2006-01-02 15:04:05"
)

// ==================== 接口定义 ====================

// DispatchLogReader 分发结果查询接口
type DispatchLogReader interface {
	QueryReports(ctx context.Context, limit int64) ([]notify.DispatchReport, error)
}

// TotalReportsGetter 获取留存结果总数的接口
// 用于可选的扩展功能
type TotalReportsGetter interface {
	GetTotalReports(ctx context.Context) (int64, error)
}

// ==================== Handler 处理器 ====================

// DispatchRecordsHandler 分发结果查询处理器
type DispatchRecordsHandler struct {
	store DispatchLogReader
}

// NewDispatchRecordsHandler 创建分发结果处理器
func NewDispatchRecordsHandler(store DispatchLogReader) *DispatchRecordsHandler {
	return &DispatchRecordsHandler{store: store}
}

// ==================== HTTP 处理方法 ====================

// HandleQuery 处理分发结果查询请求
// GET /v1/dispatches?page=1&page_size=20&type=late-estimate&record_id=xxx&start_time=1234567890&end_time=1234567899
func (handler *DispatchRecordsHandler) HandleQuery(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "GET, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodGet {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := handler.handleReportQuery(writer, request); err != nil {
		log.Printf("[DISPATCH_RECORDS] 查询失败: %v", err)
	}
}

// HandleStats 处理分发结果统计请求
// GET /v1/dispatches/stats
func (handler *DispatchRecordsHandler) HandleStats(writer http.ResponseWriter, request *http.Request) {
	setCORS(writer, "GET, OPTIONS")

	if request.Method == http.MethodOptions {
		return
	}

	if request.Method != http.MethodGet {
		writeError(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := handler.handleReportStats(writer, request); err != nil {
		log.Printf("[DISPATCH_STATS] 统计失败: %v", err)
	}
}

// ==================== 核心处理逻辑 ====================

// handleReportQuery 处理结果查询的核心逻辑
func (handler *DispatchRecordsHandler) handleReportQuery(writer http.ResponseWriter, request *http.Request) error {
	queryParams := handler.parseQueryParams(request)
	filters := handler.parseFilters(request)

	log.Printf("[DISPATCH_RECORDS] 查询参数: page=%d, pageSize=%d", queryParams.page, queryParams.pageSize)

	reports, err := handler.store.QueryReports(request.Context(), queryParams.limit)
	if err != nil {
		writeError(writer, "查询分发结果失败: "+err.Error(), http.StatusInternalServerError)
		return err
	}

	filteredReports := handler.applyFilters(reports, filters)
	paginatedReports, pagination := handler.paginateReports(
		filteredReports,
		queryParams.page,
		queryParams.pageSize,
	)

	handler.writeQueryResponse(writer, paginatedReports, pagination, filters)
	return nil
}

// handleReportStats 处理结果统计的核心逻辑
func (handler *DispatchRecordsHandler) handleReportStats(writer http.ResponseWriter, request *http.Request) error {
	reports, err := handler.store.QueryReports(request.Context(), maxQueryLimit)
	if err != nil {
		writeError(writer, "查询分发结果失败: "+err.Error(), http.StatusInternalServerError)
		return err
	}

	stats := handler.calculateStats(reports)
	handler.updateStatsWithTotalReports(request.Context(), stats, len(reports))

	handler.writeStatsResponse(writer, stats)
	return nil
}

// ==================== 数据模型 ====================

// queryParams 查询参数
type queryParams struct {
	page     int64
	pageSize int64
	limit    int64
}

// reportFilters 结果过滤器
type reportFilters struct {
	notifyType string
	recordID   string
	startTime  string
	endTime    string
}

// paginationInfo 分页信息
type paginationInfo struct {
	CurrentPage int64 `json:"current_page"`
	PageSize    int64 `json:"page_size"`
	TotalCount  int   `json:"total_count"`
	TotalPages  int64 `json:"total_pages"`
	HasPrev     bool  `json:"has_prev"`
	HasNext     bool  `json:"has_next"`
}

// ==================== 参数解析 ====================

// parseQueryParams 解析查询参数
func (handler *DispatchRecordsHandler) parseQueryParams(request *http.Request) queryParams {
	query := request.URL.Query()

	page := parsePageParam(query.Get("page"))
	pageSize := parsePageSizeParam(query.Get("page_size"))
	limit := calculateQueryLimit(page, pageSize)

	return queryParams{
		page:     page,
		pageSize: pageSize,
		limit:    limit,
	}
}

// parseFilters 解析过滤参数
func (handler *DispatchRecordsHandler) parseFilters(request *http.Request) reportFilters {
	query := request.URL.Query()

	return reportFilters{
		notifyType: query.Get("type"),
		recordID:   query.Get("record_id"),
		startTime:  query.Get("start_time"),
		endTime:    query.Get("end_time"),
	}
}

// ==================== 过滤逻辑 ====================

// applyFilters 应用过滤条件
func (handler *DispatchRecordsHandler) applyFilters(reports []notify.DispatchReport, filters reportFilters) []notify.DispatchReport {
	var filtered []notify.DispatchReport

	for _, report := range reports {
		if !handler.matchesFilters(report, filters) {
			continue
		}
		filtered = append(filtered, report)
	}

	return filtered
}

// matchesFilters 检查结果是否匹配过滤条件
func (handler *DispatchRecordsHandler) matchesFilters(report notify.DispatchReport, filters reportFilters) bool {
	if filters.notifyType != "" && !strings.EqualFold(report.Type, filters.notifyType) {
		return false
	}

	if filters.recordID != "" && report.RecordID != filters.recordID {
		return false
	}

	return handler.matchesTimeRange(report, filters.startTime, filters.endTime)
}

// matchesTimeRange 检查时间范围匹配
func (handler *DispatchRecordsHandler) matchesTimeRange(report notify.DispatchReport, startTimeString, endTimeString string) bool {
	if startTimeString != "" {
		startTime, err := strconv.ParseInt(startTimeString, 10, 64)
		if err == nil && report.CreatedAt < startTime {
			return false
		}
	}

	if endTimeString != "" {
		endTime, err := strconv.ParseInt(endTimeString, 10, 64)
		if err == nil && report.CreatedAt > endTime {
			return false
		}
	}

	return true
}

// ==================== 分页逻辑 ====================

// paginateReports 对结果进行分页
func (handler *DispatchRecordsHandler) paginateReports(
	reports []notify.DispatchReport,
	page int64,
	pageSize int64,
) ([]notify.DispatchReport, paginationInfo) {
	totalCount := len(reports)
	offset := (page - 1) * pageSize
	endIndex := offset + pageSize

	paginatedReports := handler.sliceReports(reports, offset, endIndex)
	pagination := handler.buildPaginationInfo(page, pageSize, totalCount)

	return paginatedReports, pagination
}

// sliceReports 切片结果
func (handler *DispatchRecordsHandler) sliceReports(reports []notify.DispatchReport, offset, endIndex int64) []notify.DispatchReport {
	if offset >= int64(len(reports)) {
		return []notify.DispatchReport{}
	}

	if endIndex > int64(len(reports)) {
		return reports[offset:]
	}

	return reports[offset:endIndex]
}

// buildPaginationInfo 构建分页信息
func (handler *DispatchRecordsHandler) buildPaginationInfo(page, pageSize int64, totalCount int) paginationInfo {
	totalPages := (int64(totalCount) + pageSize - 1) / pageSize

	return paginationInfo{
		CurrentPage: page,
		PageSize:    pageSize,
		TotalCount:  totalCount,
		TotalPages:  totalPages,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
	}
}

// ==================== 统计逻辑 ====================

// calculateStats 计算统计信息
func (handler *DispatchRecordsHandler) calculateStats(reports []notify.DispatchReport) map[string]interface{} {
	typeCount := make(map[string]int)
	delivered := 0
	transient := 0
	permanent := 0

	for _, report := range reports {
		typeCount[report.Type]++
		delivered += report.Delivered
		transient += report.Transient
		permanent += report.Permanent
	}

	return map[string]interface{}{
		"total":            len(reports),
		"delivered":        delivered,
		"transient":        transient,
		"permanent":        permanent,
		"recent_24h_count": handler.countRecentReports(reports),
		"type_breakdown":   typeCount,
		"summary": map[string]interface{}{
			"delivered_rate":  handler.calculateDeliveredRate(delivered, transient, permanent),
			"most_fired_type": handler.getMostFiredType(typeCount),
		},
	}
}

// countRecentReports 统计最近24小时的结果数
func (handler *DispatchRecordsHandler) countRecentReports(reports []notify.DispatchReport) int {
	now := time.Now()
	count := 0

	for _, report := range reports {
		if report.CreatedAt > 0 {
			reportTime := time.Unix(report.CreatedAt, 0)
			if now.Sub(reportTime).Hours() <= hoursInDay {
				count++
			}
		}
	}

	return count
}

// calculateDeliveredRate 计算投递成功率
func (handler *DispatchRecordsHandler) calculateDeliveredRate(delivered, transient, permanent int) float64 {
	total := delivered + transient + permanent
	if total == 0 {
		return defaultDeliveredRate
	}

	return float64(delivered) / float64(total) * 100
}

// getMostFiredType 获取触发最多的通知类型
func (handler *DispatchRecordsHandler) getMostFiredType(typeCount map[string]int) string {
	maxCount := 0
	mostFired := ""

	for notifyType, count := range typeCount {
		if count > maxCount {
			maxCount = count
			mostFired = notifyType
		}
	}

	return mostFired
}

// updateStatsWithTotalReports 更新统计信息中的留存总数
// 如果存储实现了 TotalReportsGetter 接口,则获取真实总数
func (handler *DispatchRecordsHandler) updateStatsWithTotalReports(
	ctx context.Context,
	stats map[string]interface{},
	queryCount int,
) {
	getter, ok := handler.store.(TotalReportsGetter)
	if !ok {
		return
	}

	totalReports, err := getter.GetTotalReports(ctx)
	if err != nil {
		log.Printf("[DISPATCH_STATS] 获取留存总数失败: %v", err)
		return
	}

	if totalReports > int64(queryCount) {
		stats["total"] = totalReports
	}
}

// ==================== 数据格式化 ====================

// formatReports 格式化结果用于 API 响应
func (handler *DispatchRecordsHandler) formatReports(reports []notify.DispatchReport) []map[string]interface{} {
	formatted := make([]map[string]interface{}, len(reports))

	for index, report := range reports {
		formatted[index] = handler.formatSingleReport(report)
	}

	return formatted
}

// formatSingleReport 格式化单条结果
func (handler *DispatchRecordsHandler) formatSingleReport(report notify.DispatchReport) map[string]interface{} {
	return map[string]interface{}{
		"type":         report.Type,
		"record_id":    report.RecordID,
		"label":        report.Label,
		"recipients":   report.Recipients,
		"outcomes":     report.Outcomes,
		"delivered":    report.Delivered,
		"transient":    report.Transient,
		"permanent":    report.Permanent,
		"created_at":   report.CreatedAt,
		"created_time": handler.formatTimestamp(report.CreatedAt),
	}
}

// formatTimestamp 格式化时间戳
func (handler *DispatchRecordsHandler) formatTimestamp(timestamp int64) string {
	if timestamp <= 0 {
		return ""
	}
	return time.Unix(timestamp, 0).Format(timestampLayout)
}

// ==================== 响应写入 ====================

// writeQueryResponse 写入查询响应
func (handler *DispatchRecordsHandler) writeQueryResponse(
	writer http.ResponseWriter,
	reports []notify.DispatchReport,
	pagination paginationInfo,
	filters reportFilters,
) {
	response := map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"reports":    handler.formatReports(reports),
			"pagination": pagination,
		},
		"filters": map[string]interface{}{
			"type":       filters.notifyType,
			"record_id":  filters.recordID,
			"start_time": filters.startTime,
			"end_time":   filters.endTime,
		},
		"timestamp": time.Now().Unix(),
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(response)
}

// writeStatsResponse 写入统计响应
func (handler *DispatchRecordsHandler) writeStatsResponse(writer http.ResponseWriter, stats map[string]interface{}) {
	response := map[string]interface{}{
		"success":   true,
		"code":      200,
		"msg":       "success",
		"data":      stats,
		"timestamp": time.Now().Unix(),
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(response)
}

// ==================== 工具函数 ====================

// parsePageParam 解析页码参数
func parsePageParam(pageString string) int64 {
	if pageString == "" {
		return defaultPage
	}

	page, err := strconv.ParseInt(pageString, 10, 64)
	if err != nil || page < 1 {
		return defaultPage
	}

	return page
}

// parsePageSizeParam 解析页面大小参数
func parsePageSizeParam(pageSizeString string) int64 {
	if pageSizeString == "" {
		return defaultPageSize
	}

	pageSize, err := strconv.ParseInt(pageSizeString, 10, 64)
	if err != nil || pageSize < 1 {
		return defaultPageSize
	}

	if pageSize > maxPageSize {
		return maxPageSize
	}

	return pageSize
}

// calculateQueryLimit 计算查询限制
func calculateQueryLimit(page, pageSize int64) int64 {
	limit := pageSize * page * 2
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
