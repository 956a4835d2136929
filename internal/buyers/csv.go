package buyers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxImportRows is the ceiling on valid rows per import. Exceeding it fails
// the whole batch before anything is written.
const maxImportRows = 200

// importColumns is the fixed header expected on import, in canonical order.
var importColumns = []string{
	"fullName", "email", "phone", "city", "propertyType", "bhk", "purpose",
	"budgetMin", "budgetMax", "timeline", "source", "notes", "tags", "status",
}

// exportColumns extends the import header with the server-managed timestamps.
var exportColumns = append(append([]string(nil), importColumns...), "createdAt", "updatedAt")

var nonDigits = regexp.MustCompile(`\D`)

// RowError attaches an import failure to its one-based CSV row. Row 0 marks
// batch-level failures.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportReport summarizes one CSV import attempt.
type ImportReport struct {
	Success  bool       `json:"success"`
	Imported int        `json:"imported"`
	Errors   []RowError `json:"errors"`
}

// ImportCSV parses and validates the CSV payload and inserts every valid row
// as a lead owned by ownerID, each with a synthetic import history entry. Row
// validation failures are collected per row; a bad header or more than
// maxImportRows valid rows fails the batch outright. The insert loop runs in
// one transaction, so a storage failure commits nothing.
func (s *Service) ImportCSV(ctx context.Context, csvText string, ownerID string) (ImportReport, error) {
	if ownerID == "" {
		return ImportReport{}, newServiceError(opImportCSV, "missing_owner", errMissingOwnerID)
	}

	reader := csv.NewReader(strings.NewReader(csvText))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return batchFailure("CSV payload is empty or malformed"), nil
	}
	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[strings.TrimSpace(name)] = i
	}
	for _, required := range importColumns {
		if _, ok := columnIndex[required]; !ok {
			return batchFailure("Invalid CSV headers. Expected: " + strings.Join(importColumns, ", ")), nil
		}
	}

	var rowErrors []RowError
	var validRows []Input
	for rowNumber := 2; ; rowNumber++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: rowNumber, Message: "Malformed CSV row"})
			continue
		}
		if len(record) != len(header) {
			rowErrors = append(rowErrors, RowError{
				Row:     rowNumber,
				Message: fmt.Sprintf("Expected %d columns, got %d", len(header), len(record)),
			})
			continue
		}

		cell := func(column string) string {
			return strings.TrimSpace(record[columnIndex[column]])
		}
		input, violations := inputFromCSVRow(cell)
		if err := ValidateInput(input); err != nil {
			var validationErr *ValidationError
			if errors.As(err, &validationErr) {
				violations = append(violations, validationErr.Violations...)
			} else {
				return ImportReport{}, err
			}
		}
		if len(violations) > 0 {
			messages := make([]string, 0, len(violations))
			for _, violation := range violations {
				messages = append(messages, fmt.Sprintf("%s: %s", violation.Field, violation.Message))
			}
			rowErrors = append(rowErrors, RowError{Row: rowNumber, Message: strings.Join(messages, ", ")})
			continue
		}
		validRows = append(validRows, input)
	}

	if len(validRows) > maxImportRows {
		return batchFailure(fmt.Sprintf("Maximum %d rows allowed for import", maxImportRows)), nil
	}

	imported := 0
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, input := range validRows {
			leadID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opImportCSV, "id_generation_failed", err)
			}
			now := s.clock().UTC()
			buyer := buyerFromInput(input, leadID, ownerID, now)
			if err := tx.Create(&buyer).Error; err != nil {
				return newServiceError(opImportCSV, "lead_insert_failed", err)
			}
			if err := s.appendChange(tx, leadID, ownerID, now, Diff{
				createdDiffKey: FieldChange{Old: nil, New: importDiffMessage},
			}, opImportCSV); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if txErr != nil {
		s.logError(opImportCSV, "transaction_failed", txErr, zap.String("owner_id", ownerID))
		return batchFailure("Database error during import"), txErr
	}

	return ImportReport{Success: true, Imported: imported, Errors: rowErrors}, nil
}

func batchFailure(message string) ImportReport {
	return ImportReport{
		Success:  false,
		Imported: 0,
		Errors:   []RowError{{Row: 0, Message: message}},
	}
}

// inputFromCSVRow maps one record to an Input, applying the spreadsheet
// normalizations: scientific-notation phones become digit strings, budgets
// parse from text, and tags split on commas.
func inputFromCSVRow(cell func(string) string) (Input, []FieldViolation) {
	var violations []FieldViolation

	budget := func(column string) *int64 {
		raw := cell(column)
		if raw == "" {
			return nil
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			violations = append(violations, FieldViolation{Field: column, Message: "Must be an integer"})
			return nil
		}
		return &value
	}

	input := Input{
		FullName:     cell("fullName"),
		Email:        cell("email"),
		Phone:        normalizeCSVPhone(cell("phone")),
		City:         cell("city"),
		PropertyType: cell("propertyType"),
		BHK:          cell("bhk"),
		Purpose:      cell("purpose"),
		BudgetMin:    budget("budgetMin"),
		BudgetMax:    budget("budgetMax"),
		Timeline:     cell("timeline"),
		Source:       cell("source"),
		Status:       cell("status"),
		Notes:        cell("notes"),
		Tags:         splitTags(cell("tags")),
	}
	if input.Status == "" {
		input.Status = StatusNew
	}
	return input, violations
}

// normalizeCSVPhone undoes spreadsheet artifacts: scientific-notation numbers
// round back to digit strings and formatting characters are stripped.
func normalizeCSVPhone(raw string) string {
	if strings.Contains(raw, "E+") || strings.Contains(raw, "e+") {
		value, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return strconv.FormatInt(int64(math.Round(value)), 10)
		}
	}
	return nonDigits.ReplaceAllString(raw, "")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

// ExportCSV serializes every lead matching the filters, most recently updated
// first, using the fixed 16-column header. Text fields are quoted; budgets
// and timestamps are not, with timestamps in RFC 3339.
func (s *Service) ExportCSV(ctx context.Context, filters ListFilters) (string, error) {
	var leads []Buyer
	err := applyFilters(s.db.WithContext(ctx).Model(&Buyer{}), filters).
		Order("updated_at DESC").
		Find(&leads).Error
	if err != nil {
		s.logError(opExportCSV, "query_failed", err)
		return "", newServiceError(opExportCSV, "query_failed", err)
	}

	var builder strings.Builder
	builder.WriteString(strings.Join(exportColumns, ","))
	builder.WriteByte('\n')
	for _, lead := range leads {
		fields := []string{
			quoteCSV(lead.FullName),
			quoteCSV(lead.Email),
			quoteCSV(lead.Phone),
			quoteCSV(lead.City),
			quoteCSV(lead.PropertyType),
			quoteCSV(lead.BHK),
			quoteCSV(lead.Purpose),
			formatBudget(lead.BudgetMin),
			formatBudget(lead.BudgetMax),
			quoteCSV(lead.Timeline),
			quoteCSV(lead.Source),
			quoteCSV(lead.Notes),
			quoteCSV(strings.Join(lead.Tags, ",")),
			quoteCSV(lead.Status),
			lead.CreatedAt.UTC().Format(time.RFC3339),
			lead.UpdatedAt.UTC().Format(time.RFC3339),
		}
		builder.WriteString(strings.Join(fields, ","))
		builder.WriteByte('\n')
	}
	return builder.String(), nil
}

func quoteCSV(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func formatBudget(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}
