package queue

import (
	"strings"
	"time"

	"fiscalcore/canon"
)

// qrStringMaxLength is the fixed cap on the receipt's qr_string field.
const qrStringMaxLength = 2048

// buildQRString derives the printable QR payload from the signed
// envelope and regulator transaction id: a deterministic, pipe-delimited
// string a receipt's QR code would encode. The field order beyond the
// 2048-char cap is this core's own choice, kept stable once printed
// receipts depend on it.
func buildQRString(envelope *canon.Envelope, regulatorTransID string, transactionTime time.Time) string {
	qr := strings.Join([]string{
		envelope.Fingerprint,
		envelope.Current,
		regulatorTransID,
		transactionTime.UTC().Format("20060102150405"),
	}, "|")

	if len(qr) > qrStringMaxLength {
		qr = qr[:qrStringMaxLength]
	}
	return qr
}
