package model

import "time"

// Message is a direct message between two users. Only the latest message
// per pair is read by the friends view.
type Message struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   int64     `gorm:"index:idx_message_pair,priority:1;not null" json:"sender_id"`
	ReceiverID int64     `gorm:"index:idx_message_pair,priority:2;not null" json:"receiver_id"`
	Content    string    `gorm:"type:text" json:"content"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
