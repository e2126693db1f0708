package inventory

import (
	"fmt"
	"strings"
)

// Lock-store key grammar. Every key the reservation engine writes goes
// through these helpers so the layout stays in one place.

// SeatLockKey returns the lock key for a seat of an event
func SeatLockKey(eventID int64, seatID string) string {
	return fmt.Sprintf("lock:event:%d:seat:%s", eventID, seatID)
}

// SeatLockPrefix returns the key prefix covering all seat locks of an event
func SeatLockPrefix(eventID int64) string {
	return fmt.Sprintf("lock:event:%d:seat:", eventID)
}

// SeatIDFromLockKey extracts the seat ID from a seat lock key
func SeatIDFromLockKey(eventID int64, key string) string {
	return strings.TrimPrefix(key, SeatLockPrefix(eventID))
}

// TatkalInventoryKey returns the counter key for an event's Tatkal pool
func TatkalInventoryKey(eventID int64) string {
	return fmt.Sprintf("inventory:event:%d", eventID)
}
