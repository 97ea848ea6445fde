package model

import "time"

type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Email         string    `gorm:"size:128;not null;uniqueIndex" json:"email"`
	Name          string    `gorm:"size:128;not null;default:''" json:"name"`
	AvatarURL     *string   `gorm:"size:512" json:"avatar"`
	PasswordHash  string    `gorm:"size:255;not null;default:''" json:"-"`
	GoogleID      *string   `gorm:"size:64;uniqueIndex" json:"-"`
	EmailVerified bool      `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPassword is false for accounts created through Google sign-in.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
