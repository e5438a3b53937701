package pagination

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPage = 1
	DefaultSize = 20
	MaxSize     = 100

	SortAsc  = "asc"
	SortDesc = "desc"
)

// Page is an offset page request. Zero values are replaced by defaults in Normalize.
type Page struct {
	Page      int    `form:"page"`
	Size      int    `form:"size"`
	SortField string `form:"sort"`
	SortDir   string `form:"dir"`
}

type PageInfo struct {
	Page    int   `json:"page"`
	Size    int   `json:"size"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// Normalize applies defaults and validates p against the sortable column whitelist.
// defaultSort is used when no sort field was requested.
func (p Page) Normalize(sortable map[string]string, defaultSort string) (Page, error) {
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.Page < 1 {
		return p, fmt.Errorf("page must be >= 1, got %d", p.Page)
	}
	if p.Size == 0 {
		p.Size = DefaultSize
	}
	if p.Size < 1 || p.Size > MaxSize {
		return p, fmt.Errorf("size must be between 1 and %d, got %d", MaxSize, p.Size)
	}

	if p.SortField == "" {
		p.SortField = defaultSort
	}
	if _, ok := sortable[p.SortField]; !ok {
		return p, fmt.Errorf("unsupported sort field %q", p.SortField)
	}

	p.SortDir = strings.ToLower(p.SortDir)
	switch p.SortDir {
	case "":
		p.SortDir = SortDesc
	case SortAsc, SortDesc:
	default:
		return p, fmt.Errorf("sort direction must be %q or %q, got %q", SortAsc, SortDesc, p.SortDir)
	}

	return p, nil
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Size
}

// Scope applies ORDER BY, OFFSET and LIMIT. p must already be normalized; column
// names come from the whitelist only, never from the request.
func (p Page) Scope(sortable map[string]string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Order(clause.OrderByColumn{
				Column: clause.Column{Name: sortable[p.SortField]},
				Desc:   p.SortDir == SortDesc,
			}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: p.SortDir == SortDesc}).
			Offset(p.Offset()).
			Limit(p.Size)
	}
}

func BuildPageInfo(p Page, total int64) PageInfo {
	return PageInfo{
		Page:    p.Page,
		Size:    p.Size,
		Total:   total,
		HasMore: int64(p.Offset()+p.Size) < total,
	}
}
