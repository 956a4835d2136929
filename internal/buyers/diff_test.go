package buyers

import (
	"reflect"
	"testing"
)

func storedLead() Buyer {
	return Buyer{
		ID:           "lead-1",
		FullName:     "Ravi Sharma",
		Email:        "ravi@example.com",
		Phone:        "9876543210",
		City:         "Mohali",
		PropertyType: "Apartment",
		BHK:          "3",
		Purpose:      "Buy",
		BudgetMin:    budget(5000000),
		BudgetMax:    budget(7000000),
		Timeline:     "0-3m",
		Source:       "Website",
		Status:       "New",
		Tags:         TagList{"urgent"},
		OwnerID:      "user-1",
	}
}

func TestComputeDiffExcludesEqualValues(t *testing.T) {
	stored := storedLead()
	diff := ComputeDiff(stored, Input{
		FullName: "Ravi Sharma",
		City:     "Mohali",
		Status:   "New",
	})
	if len(diff) != 0 {
		t.Fatalf("expected empty diff for unchanged values, got %#v", diff)
	}
}

func TestComputeDiffExcludesAbsentFields(t *testing.T) {
	stored := storedLead()
	diff := ComputeDiff(stored, Input{Status: "Qualified"})
	if len(diff) != 1 {
		t.Fatalf("expected only status in diff, got %#v", diff)
	}
	change, ok := diff["status"]
	if !ok {
		t.Fatalf("expected status entry, got %#v", diff)
	}
	if change.Old != "New" || change.New != "Qualified" {
		t.Fatalf("unexpected status change %#v", change)
	}
}

func TestComputeDiffReportsBudgetChanges(t *testing.T) {
	stored := storedLead()
	diff := ComputeDiff(stored, Input{BudgetMax: budget(9000000)})
	change, ok := diff["budgetMax"]
	if !ok {
		t.Fatalf("expected budgetMax entry, got %#v", diff)
	}
	if change.Old != int64(7000000) || change.New != int64(9000000) {
		t.Fatalf("unexpected budget change %#v", change)
	}

	// Equal budget must not appear.
	diff = ComputeDiff(stored, Input{BudgetMin: budget(5000000)})
	if _, ok := diff["budgetMin"]; ok {
		t.Fatalf("expected equal budgetMin to be excluded, got %#v", diff)
	}
}

func TestComputeDiffReportsTagChanges(t *testing.T) {
	stored := storedLead()

	diff := ComputeDiff(stored, Input{Tags: []string{"urgent"}})
	if len(diff) != 0 {
		t.Fatalf("expected equal tags to be excluded, got %#v", diff)
	}

	diff = ComputeDiff(stored, Input{Tags: []string{"urgent", "follow-up"}})
	change, ok := diff["tags"]
	if !ok {
		t.Fatalf("expected tags entry, got %#v", diff)
	}
	if !reflect.DeepEqual(change.New, []string{"urgent", "follow-up"}) {
		t.Fatalf("unexpected new tags %#v", change.New)
	}
}

func TestApplyInputMirrorsDiffSemantics(t *testing.T) {
	stored := storedLead()
	applyInput(&stored, Input{
		Status:    "Visited",
		BudgetMax: budget(8000000),
	})

	if stored.Status != "Visited" {
		t.Fatalf("expected status to update, got %s", stored.Status)
	}
	if stored.BudgetMax == nil || *stored.BudgetMax != 8000000 {
		t.Fatalf("expected budgetMax to update, got %v", stored.BudgetMax)
	}
	// Untouched fields keep their stored values.
	if stored.FullName != "Ravi Sharma" || stored.Phone != "9876543210" {
		t.Fatalf("expected absent fields to remain, got %#v", stored)
	}
}
