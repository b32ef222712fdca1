package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrPayload is the identifying subset of a ticket encoded into its QR
// code. Pure encoding: scanning it yields enough to look the ticket up,
// nothing more.
type qrPayload struct {
	TicketNumber int    `json:"ticket_number"`
	StudentID    int64  `json:"student_id"`
	Category     string `json:"category"`
	Timestamp    int64  `json:"timestamp"`
}

// TicketQR renders the ticket's QR code as a PNG data URL.
func TicketQR(t Ticket) (string, error) {
	b, err := json.Marshal(qrPayload{
		TicketNumber: t.TicketNumber,
		StudentID:    t.StudentID,
		Category:     t.Category,
		Timestamp:    t.CheckInTime.UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	png, err := qrcode.Encode(string(b), qrcode.High, 300)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
