package models

import "time"

// Chat sender roles.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// ChatMessage is a transient chat event relayed to every participant. Never persisted.
type ChatMessage struct {
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	SenderType string    `json:"sender_type"`
	Timestamp  time.Time `json:"timestamp"`
	SocketID   string    `json:"socket_id"`
}
