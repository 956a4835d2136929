package users

import "time"

// User is an authenticated account that can own leads.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"column:name;size:320" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}
