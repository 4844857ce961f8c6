package data

import "strings"

const (
	sortDirAsc  = "ASC"
	sortDirDesc = "DESC"

	defaultListLimit = 50
	maxListLimit     = 1000
)

// normalizePagination clamps limit/offset to sane bounds.
func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// validateSort returns a safe sort column and direction. Unknown columns fall
// back to defaultCol; direction defaults to DESC.
func validateSort(sort, dir, defaultCol string, allowed ...string) (string, string) {
	sortCol := defaultCol
	trimmed := strings.ToLower(strings.TrimSpace(sort))
	for _, col := range allowed {
		if trimmed == col {
			sortCol = col
			break
		}
	}

	sortDir := sortDirDesc
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		sortDir = sortDirAsc
	}
	return sortCol, sortDir
}
