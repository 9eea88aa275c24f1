package models

import "time"

// Session — авторизованная сессия у провайдера фида.
type Session struct {
	APIKey      string
	AccessToken string
	UserID      string
	LoginAt     time.Time
}
