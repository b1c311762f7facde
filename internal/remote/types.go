package remote

import (
	"fmt"
	"strings"
	"time"
)

// Action is the attendance action a scan asks the server to perform.
type Action string

const (
	ActionCheckIn  Action = "checkin"
	ActionCheckOut Action = "checkout"
)

// ParseAction accepts the spellings the kiosk UI sends.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checkin", "check_in", "check-in":
		return ActionCheckIn, nil
	case "checkout", "check_out", "check-out":
		return ActionCheckOut, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ResultAction is what the server actually did with a scan.
type ResultAction string

const (
	ResultCheckedIn   ResultAction = "checked_in"
	ResultCheckedOut  ResultAction = "checked_out"
	ResultTransferred ResultAction = "transferred"
)

// ScanRequest is one attendance commit.
type ScanRequest struct {
	RFIDTag string `json:"student_rfid"`
	Action  Action `json:"action"`
	RoomID  int64  `json:"room_id"`
}

// ScanResult is the server's answer to a successful commit.
type ScanResult struct {
	StudentID   int64        `json:"student_id"`
	StudentName string       `json:"student_name"`
	Action      ResultAction `json:"action"`
	RoomName    string       `json:"room_name,omitempty"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// envelope models the top-level structure of every API response.
type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    *ScanResult `json:"data"`
}
