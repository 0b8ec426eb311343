package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fiscalcore/canon"
)

func TestBuildQRString_JoinsFieldsPipeDelimited(t *testing.T) {
	envelope := &canon.Envelope{
		Previous:    canon.PreviousSentinel,
		Current:     strings.Repeat("a", 88),
		Hash:        strings.Repeat("b", 64),
		Fingerprint: strings.Repeat("c", 64),
	}
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	qr := buildQRString(envelope, "regulator-tx-1", ts)

	parts := strings.Split(qr, "|")
	assert.Equal(t, envelope.Fingerprint, parts[0])
	assert.Equal(t, envelope.Current, parts[1])
	assert.Equal(t, "regulator-tx-1", parts[2])
	assert.Equal(t, "20260304050607", parts[3])
}

func TestBuildQRString_TruncatesAtMaxLength(t *testing.T) {
	envelope := &canon.Envelope{
		Fingerprint: strings.Repeat("f", qrStringMaxLength),
		Current:     strings.Repeat("a", 88),
	}
	qr := buildQRString(envelope, "tx", time.Now().UTC())
	assert.Len(t, qr, qrStringMaxLength)
}
