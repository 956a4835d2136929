package buyers

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestSummarizeCountsLeads(t *testing.T) {
	service, _, clock := newTestService(t)

	statuses := []string{"New", "New", "Converted", "Dropped", "Qualified"}
	for i, status := range statuses {
		input := validInput()
		input.FullName = fmt.Sprintf("Lead %d", i)
		input.Status = status
		if i%2 == 1 {
			input.City = "Zirakpur"
		}
		mustCreateLead(t, service, input, "user-1")
		clock.Advance(time.Second)
	}

	summary, err := service.Summarize(context.Background())
	if err != nil {
		t.Fatalf("failed to summarize: %v", err)
	}
	if summary.TotalLeads != 5 {
		t.Fatalf("expected 5 total leads, got %d", summary.TotalLeads)
	}
	if summary.ConvertedLeads != 1 {
		t.Fatalf("expected 1 converted lead, got %d", summary.ConvertedLeads)
	}
	if summary.ActiveLeads != 3 {
		t.Fatalf("expected 3 active leads, got %d", summary.ActiveLeads)
	}

	statusCounts := make(map[string]int64, len(summary.ByStatus))
	for _, group := range summary.ByStatus {
		statusCounts[group.Value] = group.Count
	}
	if statusCounts["New"] != 2 || statusCounts["Converted"] != 1 {
		t.Fatalf("unexpected status breakdown %#v", summary.ByStatus)
	}

	cityCounts := make(map[string]int64, len(summary.ByCity))
	for _, group := range summary.ByCity {
		cityCounts[group.Value] = group.Count
	}
	if cityCounts["Mohali"] != 3 || cityCounts["Zirakpur"] != 2 {
		t.Fatalf("unexpected city breakdown %#v", summary.ByCity)
	}
}

func TestSummarizeEmptyBook(t *testing.T) {
	service, _, _ := newTestService(t)

	summary, err := service.Summarize(context.Background())
	if err != nil {
		t.Fatalf("failed to summarize empty book: %v", err)
	}
	if summary.TotalLeads != 0 || summary.ActiveLeads != 0 || summary.ConvertedLeads != 0 {
		t.Fatalf("expected zero counts, got %#v", summary)
	}
}
