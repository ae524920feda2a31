package common

import "cmsreport/pkg/types"

// ListResponse 列表响应结构，包含数据与分页信息。
type ListResponse struct {
	Items      interface{}              `json:"items"`
	Pagination types.PaginationResponse `json:"pagination"`
}

// AcceptedResponse 异步任务受理结果
type AcceptedResponse struct {
	ReportID string `json:"report_id"`
	TaskID   string `json:"task_id,omitempty"`
	Mode     string `json:"mode"` // queue 或 local
}
