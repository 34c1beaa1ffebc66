package notify

// Delta 计算新近获得通知资格的接收人:newAudience \ oldAudience
// 通知只在资格"新获得"时触发:编辑无关字段时资格持续存在不重复提醒,
// 资格丢失也不产生"你不再需要处理"类通知;空结果是常态而非错误
func Delta(oldAudience, newAudience RecipientSet) RecipientSet {
	return newAudience.Diff(oldAudience)
}
