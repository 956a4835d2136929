package buyers

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// pageSize is the fixed number of leads per listing page.
const pageSize = 10

// ListFilters narrows a listing or export. Empty fields are ignored; the
// search term substring-matches name, phone, and email.
type ListFilters struct {
	Search       string
	City         string
	PropertyType string
	Status       string
	Timeline     string
}

// ListRequest describes one page of the lead listing.
type ListRequest struct {
	Filters ListFilters
	// Sort is "<field>-<direction>", e.g. "fullName-asc". Unknown fields fall
	// back to most-recently-updated first.
	Sort string
	Page int
}

// LeadPage is one page of listing results.
type LeadPage struct {
	Leads      []Buyer `json:"leads"`
	TotalCount int64   `json:"total_count"`
	TotalPages int     `json:"total_pages"`
	Page       int     `json:"page"`
}

// sortColumns is the allow-list of sortable fields mapped to their columns.
var sortColumns = map[string]string{
	"fullName":  "full_name",
	"city":      "city",
	"status":    "status",
	"createdAt": "created_at",
}

const defaultOrder = "updated_at DESC"

// List returns a filtered, sorted, paginated page of leads together with the
// total match count.
func (s *Service) List(ctx context.Context, request ListRequest) (LeadPage, error) {
	page := request.Page
	if page < 1 {
		page = 1
	}

	var totalCount int64
	countQuery := applyFilters(s.db.WithContext(ctx).Model(&Buyer{}), request.Filters)
	if err := countQuery.Count(&totalCount).Error; err != nil {
		s.logError(opListLeads, "count_failed", err)
		return LeadPage{}, newServiceError(opListLeads, "count_failed", err)
	}

	var leads []Buyer
	err := applyFilters(s.db.WithContext(ctx).Model(&Buyer{}), request.Filters).
		Order(orderClause(request.Sort)).
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&leads).Error
	if err != nil {
		s.logError(opListLeads, "query_failed", err, zap.String("sort", request.Sort))
		return LeadPage{}, newServiceError(opListLeads, "query_failed", err)
	}

	totalPages := int((totalCount + pageSize - 1) / pageSize)
	return LeadPage{
		Leads:      leads,
		TotalCount: totalCount,
		TotalPages: totalPages,
		Page:       page,
	}, nil
}

func applyFilters(query *gorm.DB, filters ListFilters) *gorm.DB {
	if filters.Search != "" {
		pattern := "%" + filters.Search + "%"
		query = query.Where("full_name LIKE ? OR phone LIKE ? OR email LIKE ?", pattern, pattern, pattern)
	}
	if filters.City != "" {
		query = query.Where("city = ?", filters.City)
	}
	if filters.PropertyType != "" {
		query = query.Where("property_type = ?", filters.PropertyType)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Timeline != "" {
		query = query.Where("timeline = ?", filters.Timeline)
	}
	return query
}

func orderClause(sort string) string {
	field, direction, found := strings.Cut(sort, "-")
	if !found {
		return defaultOrder
	}
	column, ok := sortColumns[field]
	if !ok {
		return defaultOrder
	}
	if strings.EqualFold(direction, "asc") {
		return column + " ASC"
	}
	return column + " DESC"
}
