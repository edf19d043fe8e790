package model

import "time"

// User is the owning record for a device identity. ID is a client-visible
// UUID generated once at registration; Latitude/Longitude stay nil until the
// first accepted fix.
type User struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:20;not null" json:"name"`
	SecretHash string    `gorm:"size:64;not null" json:"-"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Timestamp  int64     `json:"timestamp,omitempty"` // unix ms of last location update
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
