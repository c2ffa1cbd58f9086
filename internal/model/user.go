package model

// User is the profile slice this service reads for participant
// display. The rows are owned by the identity service and are never
// written here.
type User struct {
	ID          string `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string `json:"display_name" gorm:"size:128"`
	AvatarURL   string `json:"avatar_url,omitempty" gorm:"size:512"`
}
