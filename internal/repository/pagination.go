package repository

import "gorm.io/gorm"

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// normalizePage 统一处理非法页码与页大小
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// applyPagination 应用分页参数
func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil {
		return query
	}
	page, pageSize = normalizePage(page, pageSize)
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}
