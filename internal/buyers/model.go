package buyers

import (
	"errors"
	"slices"
	"time"
)

// Enum values accepted for the categorical lead fields. The sets mirror the
// columns enforced at the storage layer.
var (
	CityOptions         = []string{"Chandigarh", "Mohali", "Zirakpur", "Panchkula", "Other"}
	PropertyTypeOptions = []string{"Apartment", "Villa", "Plot", "Office", "Retail"}
	BHKOptions          = []string{"1", "2", "3", "4", "Studio"}
	PurposeOptions      = []string{"Buy", "Rent"}
	TimelineOptions     = []string{"0-3m", "3-6m", ">6m", "Exploring"}
	SourceOptions       = []string{"Website", "Referral", "Walk-in", "Call", "Other"}
	StatusOptions       = []string{"New", "Qualified", "Contacted", "Visited", "Negotiation", "Converted", "Dropped"}
)

const (
	// StatusNew is assigned to leads created without an explicit status.
	StatusNew = "New"
	// StatusConverted marks a closed-won lead.
	StatusConverted = "Converted"
	// StatusDropped marks a closed-lost lead.
	StatusDropped = "Dropped"
)

var (
	// ErrLeadNotFound indicates the requested lead does not exist.
	ErrLeadNotFound = errors.New("buyers: lead not found")
	// ErrNotOwner indicates the acting user does not own the lead.
	ErrNotOwner = errors.New("buyers: lead owned by another user")
	// ErrStaleRecord indicates the caller's optimistic-concurrency token no longer
	// matches the stored record.
	ErrStaleRecord = errors.New("buyers: record changed, refresh and retry")
)

// TagList is an ordered set of free-form labels stored as a JSON array.
type TagList []string

// Buyer models a prospective property buyer lead.
type Buyer struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	FullName     string    `gorm:"column:full_name;size:80;not null" json:"full_name"`
	Email        string    `gorm:"column:email;size:320" json:"email"`
	Phone        string    `gorm:"column:phone;size:15;not null" json:"phone"`
	City         string    `gorm:"column:city;size:32;not null" json:"city"`
	PropertyType string    `gorm:"column:property_type;size:32;not null" json:"property_type"`
	BHK          string    `gorm:"column:bhk;size:16" json:"bhk"`
	Purpose      string    `gorm:"column:purpose;size:8;not null" json:"purpose"`
	BudgetMin    *int64    `gorm:"column:budget_min" json:"budget_min"`
	BudgetMax    *int64    `gorm:"column:budget_max" json:"budget_max"`
	Timeline     string    `gorm:"column:timeline;size:16;not null" json:"timeline"`
	Source       string    `gorm:"column:source;size:16;not null" json:"source"`
	Status       string    `gorm:"column:status;size:16;not null;default:'New'" json:"status"`
	Notes        string    `gorm:"column:notes;type:text" json:"notes"`
	Tags         TagList   `gorm:"column:tags;serializer:json" json:"tags"`
	OwnerID      string    `gorm:"column:owner_id;size:36;not null;index" json:"owner_id"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;index" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Buyer) TableName() string {
	return "buyers"
}

// FieldChange records the before and after values of a single field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff maps changed field names to their before/after values.
type Diff map[string]FieldChange

// LeadChange captures an append-only audit trail entry for lead modifications.
type LeadChange struct {
	ID              string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	BuyerID         string `gorm:"column:buyer_id;size:36;not null;index:idx_buyer_history_buyer_time,priority:1" json:"buyer_id"`
	ChangedBy       string `gorm:"column:changed_by;size:36;not null" json:"changed_by"`
	ChangedAtMillis int64  `gorm:"column:changed_at_ms;not null;index:idx_buyer_history_buyer_time,priority:2" json:"changed_at_ms"`
	Diff            Diff   `gorm:"column:diff;serializer:json;not null" json:"diff"`
}

// TableName provides the explicit table binding for GORM.
func (LeadChange) TableName() string {
	return "buyer_history"
}

func isOneOf(value string, options []string) bool {
	return slices.Contains(options, value)
}
