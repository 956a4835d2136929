package buyers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	errMissingActorID    = errors.New("actor identifier is required")
	errMissingLeadID     = errors.New("lead identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError tags a failure with the operation and reason it occurred in.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "buyers.service.new"
	opCreateLead    = "buyers.create"
	opUpdateLead    = "buyers.update"
	opDeleteLead    = "buyers.delete"
	opGetLead       = "buyers.get"
	opLeadHistory   = "buyers.history"
	opListLeads     = "buyers.list"
	opRecentChanges = "buyers.recent_changes"
	opImportCSV     = "buyers.import_csv"
	opExportCSV     = "buyers.export_csv"
	opSummary       = "buyers.summary"
	opClearAll      = "buyers.clear_all"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the lead service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// Service implements lead CRUD, history recording, listing, and CSV transfer.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the lead service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// conflictTolerance absorbs timestamp precision noise between the caller's
// last-known updatedAt and the stored value.
const conflictTolerance = time.Second

// historyDedupeWindow suppresses a second history entry for the same lead and
// actor written within this interval, guarding against retried requests.
const historyDedupeWindow = time.Second

const (
	createdDiffKey     = "created"
	createdDiffMessage = "Lead created"
	importDiffMessage  = "Lead imported from CSV"
)

// Create validates the candidate lead, stores it under the owner, and appends
// a synthetic "created" history entry.
func (s *Service) Create(ctx context.Context, input Input, ownerID string) (Buyer, error) {
	if ownerID == "" {
		return Buyer{}, newServiceError(opCreateLead, "missing_owner", errMissingOwnerID)
	}
	if err := ValidateInput(input); err != nil {
		return Buyer{}, err
	}

	leadID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateLead, "id_generation_failed", err)
		return Buyer{}, newServiceError(opCreateLead, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	buyer := buyerFromInput(input, leadID, ownerID, now)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&buyer).Error; err != nil {
			return newServiceError(opCreateLead, "lead_insert_failed", err)
		}
		return s.appendChange(tx, buyer.ID, ownerID, now, Diff{
			createdDiffKey: FieldChange{Old: nil, New: createdDiffMessage},
		}, opCreateLead)
	})
	if txErr != nil {
		s.logError(opCreateLead, "transaction_failed", txErr, zap.String("owner_id", ownerID))
		return Buyer{}, txErr
	}

	return buyer, nil
}

// Update applies a partial payload to an owned lead. When the caller supplies
// its last-known updatedAt, the stored timestamp must match within
// conflictTolerance or the update fails with ErrStaleRecord. A history entry
// is appended when at least one field actually changes, unless a near
// duplicate from the same actor already exists.
func (s *Service) Update(ctx context.Context, leadID string, input Input, knownUpdatedAt *time.Time, actorID string) (Buyer, error) {
	if leadID == "" {
		return Buyer{}, newServiceError(opUpdateLead, "missing_lead_id", errMissingLeadID)
	}
	if actorID == "" {
		return Buyer{}, newServiceError(opUpdateLead, "missing_actor", errMissingActorID)
	}

	var updated Buyer
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Buyer
		err := tx.Where("id = ?", leadID).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLeadNotFound
		}
		if err != nil {
			return newServiceError(opUpdateLead, "lead_select_failed", err)
		}
		if stored.OwnerID != actorID {
			return ErrNotOwner
		}
		if knownUpdatedAt != nil {
			drift := stored.UpdatedAt.Sub(*knownUpdatedAt)
			if drift < 0 {
				drift = -drift
			}
			if drift > conflictTolerance {
				return ErrStaleRecord
			}
		}

		if err := ValidatePartial(input); err != nil {
			return err
		}

		now := s.clock().UTC()
		diff := ComputeDiff(stored, input)
		applyInput(&stored, input)
		stored.UpdatedAt = now

		if err := tx.Save(&stored).Error; err != nil {
			return newServiceError(opUpdateLead, "lead_save_failed", err)
		}

		if len(diff) > 0 {
			duplicate, err := s.hasRecentChange(tx, leadID, actorID, now)
			if err != nil {
				return newServiceError(opUpdateLead, "history_select_failed", err)
			}
			if !duplicate {
				if err := s.appendChange(tx, leadID, actorID, now, diff, opUpdateLead); err != nil {
					return err
				}
			}
		}

		updated = stored
		return nil
	})
	if txErr != nil {
		s.logDomainError(opUpdateLead, txErr, zap.String("lead_id", leadID), zap.String("actor_id", actorID))
		return Buyer{}, txErr
	}

	return updated, nil
}

// Delete removes an owned lead together with its history. History rows go
// first to satisfy the referential constraint.
func (s *Service) Delete(ctx context.Context, leadID string, actorID string) error {
	if leadID == "" {
		return newServiceError(opDeleteLead, "missing_lead_id", errMissingLeadID)
	}
	if actorID == "" {
		return newServiceError(opDeleteLead, "missing_actor", errMissingActorID)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Buyer
		err := tx.Where("id = ?", leadID).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLeadNotFound
		}
		if err != nil {
			return newServiceError(opDeleteLead, "lead_select_failed", err)
		}
		if stored.OwnerID != actorID {
			return ErrNotOwner
		}

		if err := tx.Where("buyer_id = ?", leadID).Delete(&LeadChange{}).Error; err != nil {
			return newServiceError(opDeleteLead, "history_delete_failed", err)
		}
		if err := tx.Delete(&Buyer{}, "id = ?", leadID).Error; err != nil {
			return newServiceError(opDeleteLead, "lead_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logDomainError(opDeleteLead, txErr, zap.String("lead_id", leadID), zap.String("actor_id", actorID))
	}
	return txErr
}

// Get loads a single lead by identifier. Any authenticated user may read a
// lead; only the owner may mutate it.
func (s *Service) Get(ctx context.Context, leadID string) (Buyer, error) {
	if leadID == "" {
		return Buyer{}, newServiceError(opGetLead, "missing_lead_id", errMissingLeadID)
	}

	var buyer Buyer
	err := s.db.WithContext(ctx).Where("id = ?", leadID).Take(&buyer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Buyer{}, ErrLeadNotFound
	}
	if err != nil {
		s.logError(opGetLead, "lead_select_failed", err, zap.String("lead_id", leadID))
		return Buyer{}, newServiceError(opGetLead, "lead_select_failed", err)
	}
	return buyer, nil
}

// historyRawLimit bounds the raw rows fetched before deduplication.
const historyRawLimit = 10

// historyDisplayLimit bounds the deduplicated entries returned to callers.
const historyDisplayLimit = 5

// History returns the most recent audit entries for a lead, newest first,
// deduplicated by (buyer, actor, timestamp, diff) and capped for display.
func (s *Service) History(ctx context.Context, leadID string) ([]LeadChange, error) {
	if leadID == "" {
		return nil, newServiceError(opLeadHistory, "missing_lead_id", errMissingLeadID)
	}

	var changes []LeadChange
	err := s.db.WithContext(ctx).
		Where("buyer_id = ?", leadID).
		Order("changed_at_ms DESC").
		Limit(historyRawLimit).
		Find(&changes).Error
	if err != nil {
		s.logError(opLeadHistory, "history_select_failed", err, zap.String("lead_id", leadID))
		return nil, newServiceError(opLeadHistory, "history_select_failed", err)
	}

	seen := make(map[string]struct{}, len(changes))
	deduplicated := make([]LeadChange, 0, len(changes))
	for _, change := range changes {
		key := changeDedupeKey(change)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduplicated = append(deduplicated, change)
		if len(deduplicated) == historyDisplayLimit {
			break
		}
	}
	return deduplicated, nil
}

// RecentChanges returns the latest audit entries across every lead owned by
// the user, newest first.
func (s *Service) RecentChanges(ctx context.Context, ownerID string) ([]LeadChange, error) {
	if ownerID == "" {
		return nil, newServiceError(opRecentChanges, "missing_owner", errMissingOwnerID)
	}

	var changes []LeadChange
	err := s.db.WithContext(ctx).
		Joins("JOIN buyers ON buyers.id = buyer_history.buyer_id").
		Where("buyers.owner_id = ?", ownerID).
		Order("buyer_history.changed_at_ms DESC").
		Limit(historyRawLimit).
		Find(&changes).Error
	if err != nil {
		s.logError(opRecentChanges, "history_select_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opRecentChanges, "history_select_failed", err)
	}
	return changes, nil
}

// ClearAll wipes every lead and its history. Intended for the admin reset
// surface only.
func (s *Service) ClearAll(ctx context.Context) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM buyer_history").Error; err != nil {
			return newServiceError(opClearAll, "history_delete_failed", err)
		}
		if err := tx.Exec("DELETE FROM buyers").Error; err != nil {
			return newServiceError(opClearAll, "lead_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opClearAll, "transaction_failed", txErr)
	}
	return txErr
}

func (s *Service) appendChange(tx *gorm.DB, leadID, actorID string, at time.Time, diff Diff, operation string) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(operation, "id_generation_failed", err)
	}
	change := LeadChange{
		ID:              changeID,
		BuyerID:         leadID,
		ChangedBy:       actorID,
		ChangedAtMillis: at.UnixMilli(),
		Diff:            diff,
	}
	if err := tx.Create(&change).Error; err != nil {
		return newServiceError(operation, "history_insert_failed", err)
	}
	return nil
}

func (s *Service) hasRecentChange(tx *gorm.DB, leadID, actorID string, at time.Time) (bool, error) {
	var count int64
	err := tx.Model(&LeadChange{}).
		Where("buyer_id = ? AND changed_by = ?", leadID, actorID).
		Where("ABS(changed_at_ms - ?) < ?", at.UnixMilli(), historyDedupeWindow.Milliseconds()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func changeDedupeKey(change LeadChange) string {
	encodedDiff, err := json.Marshal(change.Diff)
	if err != nil {
		encodedDiff = []byte(fmt.Sprintf("%v", change.Diff))
	}
	return fmt.Sprintf("%s|%s|%d|%s", change.BuyerID, change.ChangedBy, change.ChangedAtMillis, encodedDiff)
}

func buyerFromInput(input Input, leadID, ownerID string, now time.Time) Buyer {
	status := input.Status
	if status == "" {
		status = StatusNew
	}
	return Buyer{
		ID:           leadID,
		FullName:     input.FullName,
		Email:        input.Email,
		Phone:        input.Phone,
		City:         input.City,
		PropertyType: input.PropertyType,
		BHK:          input.BHK,
		Purpose:      input.Purpose,
		BudgetMin:    input.BudgetMin,
		BudgetMax:    input.BudgetMax,
		Timeline:     input.Timeline,
		Source:       input.Source,
		Status:       status,
		Notes:        input.Notes,
		Tags:         append(TagList(nil), input.Tags...),
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

// logDomainError keeps expected domain outcomes (not found, ownership,
// conflicts, validation) out of the error log.
func (s *Service) logDomainError(operation string, err error, fields ...zap.Field) {
	var validationErr *ValidationError
	if errors.Is(err, ErrLeadNotFound) || errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrStaleRecord) || errors.As(err, &validationErr) {
		return
	}
	s.logError(operation, "storage_failed", err, fields...)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("buyers service error", attrs...)
}
