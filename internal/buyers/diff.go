package buyers

import "slices"

// ComputeDiff compares the supplied fields of a partial update against the
// stored lead and returns the fields that actually change. Empty strings and
// nil pointers mean the field was not submitted and are excluded, as are
// fields whose new value equals the stored one.
func ComputeDiff(stored Buyer, input Input) Diff {
	diff := Diff{}

	compareString := func(field, oldValue, newValue string) {
		if newValue != "" && newValue != oldValue {
			diff[field] = FieldChange{Old: oldValue, New: newValue}
		}
	}

	compareString("fullName", stored.FullName, input.FullName)
	compareString("email", stored.Email, input.Email)
	compareString("phone", stored.Phone, input.Phone)
	compareString("city", stored.City, input.City)
	compareString("propertyType", stored.PropertyType, input.PropertyType)
	compareString("bhk", stored.BHK, input.BHK)
	compareString("purpose", stored.Purpose, input.Purpose)
	compareString("timeline", stored.Timeline, input.Timeline)
	compareString("source", stored.Source, input.Source)
	compareString("status", stored.Status, input.Status)
	compareString("notes", stored.Notes, input.Notes)

	compareBudget := func(field string, oldValue *int64, newValue *int64) {
		if newValue == nil {
			return
		}
		if oldValue == nil || *oldValue != *newValue {
			diff[field] = FieldChange{Old: budgetValue(oldValue), New: *newValue}
		}
	}

	compareBudget("budgetMin", stored.BudgetMin, input.BudgetMin)
	compareBudget("budgetMax", stored.BudgetMax, input.BudgetMax)

	if len(input.Tags) > 0 && !slices.Equal([]string(stored.Tags), input.Tags) {
		diff["tags"] = FieldChange{Old: []string(stored.Tags), New: input.Tags}
	}

	return diff
}

func budgetValue(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// applyInput overwrites the stored lead with every supplied field, using the
// same supplied-field rules as ComputeDiff.
func applyInput(stored *Buyer, input Input) {
	setString := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}

	setString(&stored.FullName, input.FullName)
	setString(&stored.Email, input.Email)
	setString(&stored.Phone, input.Phone)
	setString(&stored.City, input.City)
	setString(&stored.PropertyType, input.PropertyType)
	setString(&stored.BHK, input.BHK)
	setString(&stored.Purpose, input.Purpose)
	setString(&stored.Timeline, input.Timeline)
	setString(&stored.Source, input.Source)
	setString(&stored.Status, input.Status)
	setString(&stored.Notes, input.Notes)

	if input.BudgetMin != nil {
		value := *input.BudgetMin
		stored.BudgetMin = &value
	}
	if input.BudgetMax != nil {
		value := *input.BudgetMax
		stored.BudgetMax = &value
	}
	if len(input.Tags) > 0 {
		stored.Tags = append(TagList(nil), input.Tags...)
	}
}
