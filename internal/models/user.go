package models

// User — владелец зон; админы получают алерты о проблемах с логином.
type User struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	TelegramChatID int64  `json:"telegram_chat_id"`
	IsAdmin        bool   `json:"is_admin"`
}
