package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "booking.log")
	c := NewConsumer("amqp://unused", path, zap.NewNop())

	balance := uint64(5)
	confirmed, err := json.Marshal(BookingConfirmedEvent{
		ReservationID: 9, UserID: 3, ClassID: 7, ClassName: "Salsa Basics", Teacher: "Ana", Room: 2,
		Date: "2026-03-17", StartTime: "18:00", BalanceID: &balance, Enrollment: 12, MaxCapacity: 12,
		ConfirmedAt: "2026-03-10T12:00:00Z",
	})
	require.NoError(t, err)
	cancelled, err := json.Marshal(BookingCancelledEvent{
		ReservationID: 9, UserID: 3, ClassID: 7, ClassName: "Salsa Basics", Date: "2026-03-17",
		Reason: "cancelled by user", RefundedTo: &balance, CancelledAt: "2026-03-11T08:00:00Z",
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(QueueBookingConfirmed, confirmed))
	require.NoError(t, c.Handle(QueueBookingCancelled, cancelled))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Booking confirmed | reservation_id=9")
	assert.Contains(t, lines[0], "enrollment=12/12")
	assert.Contains(t, lines[1], "Booking cancelled | reservation_id=9")
	assert.Contains(t, lines[1], "refund=balance 5")
}

func TestHandleRejectsBadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booking.log")
	c := NewConsumer("amqp://unused", path, zap.NewNop())

	assert.Error(t, c.Handle(QueueBookingConfirmed, []byte("{not json")))
	assert.Error(t, c.Handle("booking.unknown", []byte("{}")))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written for rejected messages")
}
