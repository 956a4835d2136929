package buyers

import (
	"context"
)

// GroupCount pairs one enum value with its lead count.
type GroupCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Summary aggregates the lead book for the analytics surface.
type Summary struct {
	TotalLeads     int64        `json:"total_leads"`
	ConvertedLeads int64        `json:"converted_leads"`
	ActiveLeads    int64        `json:"active_leads"`
	ByStatus       []GroupCount `json:"by_status"`
	BySource       []GroupCount `json:"by_source"`
	ByPropertyType []GroupCount `json:"by_property_type"`
	ByCity         []GroupCount `json:"by_city"`
}

// Summarize computes total, converted, and active lead counts plus group-by
// breakdowns over status, source, property type, and city.
func (s *Service) Summarize(ctx context.Context) (Summary, error) {
	var summary Summary

	if err := s.db.WithContext(ctx).Model(&Buyer{}).Count(&summary.TotalLeads).Error; err != nil {
		s.logError(opSummary, "count_failed", err)
		return Summary{}, newServiceError(opSummary, "count_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Buyer{}).
		Where("status = ?", StatusConverted).
		Count(&summary.ConvertedLeads).Error; err != nil {
		s.logError(opSummary, "count_failed", err)
		return Summary{}, newServiceError(opSummary, "count_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Buyer{}).
		Where("status NOT IN ?", []string{StatusConverted, StatusDropped}).
		Count(&summary.ActiveLeads).Error; err != nil {
		s.logError(opSummary, "count_failed", err)
		return Summary{}, newServiceError(opSummary, "count_failed", err)
	}

	groups := []struct {
		column string
		target *[]GroupCount
	}{
		{"status", &summary.ByStatus},
		{"source", &summary.BySource},
		{"property_type", &summary.ByPropertyType},
		{"city", &summary.ByCity},
	}
	for _, group := range groups {
		counts, err := s.groupCounts(ctx, group.column)
		if err != nil {
			return Summary{}, err
		}
		*group.target = counts
	}

	return summary, nil
}

func (s *Service) groupCounts(ctx context.Context, column string) ([]GroupCount, error) {
	var counts []GroupCount
	err := s.db.WithContext(ctx).Model(&Buyer{}).
		Select(column + " AS value, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Scan(&counts).Error
	if err != nil {
		s.logError(opSummary, "group_query_failed", err)
		return nil, newServiceError(opSummary, "group_query_failed", err)
	}
	return counts, nil
}
