package types

// PaginationRequest 分页请求
type PaginationRequest struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// Normalize 填充默认值并限制页大小
func (p PaginationRequest) Normalize() PaginationRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// Offset 数据库偏移量
func (p PaginationRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// PaginationResponse 分页响应
type PaginationResponse struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationResponse 根据请求与总数构造分页响应
func NewPaginationResponse(req PaginationRequest, total int64) PaginationResponse {
	n := req.Normalize()
	pages := int((total + int64(n.PageSize) - 1) / int64(n.PageSize))
	return PaginationResponse{Page: n.Page, PageSize: n.PageSize, Total: total, TotalPages: pages}
}
