package buyers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minFullNameLength = 2
	maxFullNameLength = 80
	maxNotesLength    = 1000
)

var (
	phonePattern = regexp.MustCompile(`^\d{10,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Input carries candidate lead data for create, update, and CSV import.
// Empty strings and nil pointers mean "not supplied": partial validation and
// diffing skip them.
type Input struct {
	FullName     string
	Email        string
	Phone        string
	City         string
	PropertyType string
	BHK          string
	Purpose      string
	BudgetMin    *int64
	BudgetMax    *int64
	Timeline     string
	Source       string
	Status       string
	Notes        string
	Tags         []string
}

// FieldViolation attaches a validation message to the offending field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found in a candidate lead.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", violation.Field, violation.Message))
	}
	return "buyers: invalid lead: " + strings.Join(parts, ", ")
}

// ValidateInput checks a complete candidate lead, enforcing required fields.
func ValidateInput(input Input) error {
	return validationResult(collectViolations(input, false))
}

// ValidatePartial checks only the fields supplied in a partial update payload.
func ValidatePartial(input Input) error {
	return validationResult(collectViolations(input, true))
}

func validationResult(violations []FieldViolation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func collectViolations(input Input, partial bool) []FieldViolation {
	var violations []FieldViolation
	add := func(field, message string) {
		violations = append(violations, FieldViolation{Field: field, Message: message})
	}

	if input.FullName != "" || !partial {
		length := utf8.RuneCountInString(input.FullName)
		if length < minFullNameLength {
			add("fullName", fmt.Sprintf("Full name must be at least %d characters", minFullNameLength))
		} else if length > maxFullNameLength {
			add("fullName", fmt.Sprintf("Full name must be at most %d characters", maxFullNameLength))
		}
	}

	if input.Email != "" && !emailPattern.MatchString(input.Email) {
		add("email", "Invalid email address")
	}

	if input.Phone != "" || !partial {
		if !phonePattern.MatchString(input.Phone) {
			add("phone", "Phone must be 10-15 digits")
		}
	}

	violations = append(violations, enumViolations(input, partial)...)

	if input.BudgetMin != nil && *input.BudgetMin < 0 {
		add("budgetMin", "Budget must be positive")
	}
	if input.BudgetMax != nil && *input.BudgetMax < 0 {
		add("budgetMax", "Budget must be positive")
	}
	if input.BudgetMin != nil && input.BudgetMax != nil && *input.BudgetMax < *input.BudgetMin {
		add("budgetMax", "Maximum budget must be greater than or equal to minimum budget")
	}

	// BHK accompanies residential property types only.
	if bhkRequired(input.PropertyType) && input.BHK == "" {
		add("bhk", "BHK is required for Apartment and Villa")
	}

	if utf8.RuneCountInString(input.Notes) > maxNotesLength {
		add("notes", fmt.Sprintf("Notes must be at most %d characters", maxNotesLength))
	}

	return violations
}

func enumViolations(input Input, partial bool) []FieldViolation {
	var violations []FieldViolation
	check := func(field, value string, options []string, required bool) {
		if value == "" {
			if required && !partial {
				violations = append(violations, FieldViolation{Field: field, Message: "Required"})
			}
			return
		}
		if !isOneOf(value, options) {
			message := fmt.Sprintf("Must be one of: %s", strings.Join(options, ", "))
			violations = append(violations, FieldViolation{Field: field, Message: message})
		}
	}

	check("city", input.City, CityOptions, true)
	check("propertyType", input.PropertyType, PropertyTypeOptions, true)
	check("bhk", input.BHK, BHKOptions, false)
	check("purpose", input.Purpose, PurposeOptions, true)
	check("timeline", input.Timeline, TimelineOptions, true)
	check("source", input.Source, SourceOptions, true)
	check("status", input.Status, StatusOptions, false)

	return violations
}

func bhkRequired(propertyType string) bool {
	return propertyType == "Apartment" || propertyType == "Villa"
}
