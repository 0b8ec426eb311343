// Package classify implements the closed-set error classifier: it maps
// any regulator response — including a transport failure with no HTTP
// status at all — onto one of seven error codes, decides whether the
// caller should retry, and sanitizes the raw response message of
// personally identifying information before it is persisted to the
// audit log. It also implements the jittered backoff schedule the queue
// worker uses between retries.
package classify

import (
	"math/rand"
	"regexp"
	"strings"
)

// Code is one of the seven classified error codes. The set is closed —
// no caller should construct a Code outside this list.
type Code string

const (
	CodeOK                Code = "OK"
	CodeTempUnavailable   Code = "TEMP_UNAVAILABLE"
	CodeDuplicate         Code = "DUPLICATE"
	CodeRateLimit         Code = "RATE_LIMIT"
	CodeInvalidSignature  Code = "INVALID_SIGNATURE"
	CodeInvalidHeader     Code = "INVALID_HEADER"
	CodeUnknown           Code = "UNKNOWN"
)

// retryable records, for each closed-set code, whether the queue worker
// should retry the item.
var retryable = map[Code]bool{
	CodeOK:               false,
	CodeTempUnavailable:  true,
	CodeDuplicate:        false,
	CodeRateLimit:        true,
	CodeInvalidSignature: false,
	CodeInvalidHeader:    false,
	CodeUnknown:          false,
}

// Response is the minimal shape classify needs from a completed or failed
// regulator call: an HTTP status (0 for a transport-layer failure), the
// regulator's own return code if any, and the raw body text or error.
type Response struct {
	HTTPStatus int
	RawCode    string
	RawMessage string
	Transport  TransportFailure
}

// TransportFailure distinguishes "no response at all" failures, since
// these never carry an HTTP status.
type TransportFailure string

const (
	TransportNone    TransportFailure = ""
	TransportTimeout TransportFailure = "timeout"
	TransportNetwork TransportFailure = "network"
)

// ClassifiedError is the result of classification: a code, whether the
// queue worker should retry, and the inputs that produced it.
type ClassifiedError struct {
	Code       Code
	Retryable  bool
	HTTPStatus int
	RawCode    string
	RawMessage string
}

var signatureKeywords = []string{"signature", "signed", "certificate", "fingerprint", "cert_", "sig_"}
var headerKeywords = []string{"header", "identifier", "partner_id", "software_id", "protocol_version", "missing field"}

// Classify maps a Response to a ClassifiedError from the closed set of
// codes above. raw_message is sanitized before being attached.
func Classify(r Response) ClassifiedError {
	sanitized := Sanitize(r.RawMessage)

	switch r.Transport {
	case TransportTimeout, TransportNetwork:
		return ClassifiedError{
			Code:       CodeTempUnavailable,
			Retryable:  true,
			HTTPStatus: 0,
			RawCode:    r.RawCode,
			RawMessage: sanitized,
		}
	}

	code := classifyStatus(r.HTTPStatus, r.RawCode, r.RawMessage)
	return ClassifiedError{
		Code:       code,
		Retryable:  retryable[code],
		HTTPStatus: r.HTTPStatus,
		RawCode:    r.RawCode,
		RawMessage: sanitized,
	}
}

func classifyStatus(status int, rawCode, rawMessage string) Code {
	switch {
	case status >= 200 && status < 300:
		return CodeOK
	case status == 409:
		return CodeDuplicate
	case status == 429:
		return CodeRateLimit
	case status >= 400 && status < 500:
		haystack := strings.ToLower(rawCode + " " + rawMessage)
		if containsAny(haystack, signatureKeywords) {
			return CodeInvalidSignature
		}
		if containsAny(haystack, headerKeywords) {
			return CodeInvalidHeader
		}
		return CodeUnknown
	case status >= 500 && status < 600:
		return CodeTempUnavailable
	default:
		return CodeUnknown
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Sanitation patterns, applied in a fixed order so that, e.g., a UUID
// embedded in an email-like string is still caught by the pattern that
// runs first.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	uuidPattern  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	sinPattern   = regexp.MustCompile(`\b\d{3}[ -]?\d{3}[ -]?\d{3}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`)
)

const maxMessageLength = 500

// Sanitize redacts PII from a raw message before it is stored: email
// addresses, UUIDs, card numbers, IBAN-shaped bank numbers, US social
// security numbers, Canadian social insurance numbers, and phone numbers
// are each replaced with a bracketed tag. The result is truncated to 500
// characters with a trailing ellipsis if longer.
//
// Order matters: UUIDs and card numbers are matched before the broader
// SSN/SIN/phone digit patterns so a 13-19 digit card number is tagged
// [CARD] rather than partially swallowed by [SIN] or [PHONE], and SSN's
// dash-delimited 3-2-4 grouping is matched before SIN's 3-3-3 grouping so
// the two nine-digit shapes don't collide.
func Sanitize(msg string) string {
	out := msg
	out = emailPattern.ReplaceAllString(out, "[EMAIL]")
	out = uuidPattern.ReplaceAllString(out, "[UUID]")
	out = cardPattern.ReplaceAllString(out, "[CARD]")
	out = ibanPattern.ReplaceAllString(out, "[IBAN]")
	out = ssnPattern.ReplaceAllString(out, "[SSN]")
	out = sinPattern.ReplaceAllString(out, "[SIN]")
	out = phonePattern.ReplaceAllString(out, "[PHONE]")

	if len(out) > maxMessageLength {
		out = out[:maxMessageLength] + "..."
	}
	return out
}

// Backoff computes the jittered retry delay for retryCount, in
// milliseconds: min(base*2^retryCount, max) scaled by a uniform jitter
// factor in [0.9, 1.1].
func Backoff(retryCount, baseSeconds, maxSeconds int) int64 {
	backoffSeconds := float64(baseSeconds)
	for i := 0; i < retryCount; i++ {
		backoffSeconds *= 2
		if backoffSeconds >= float64(maxSeconds) {
			backoffSeconds = float64(maxSeconds)
			break
		}
	}
	jitter := 0.9 + rand.Float64()*0.2
	return int64(backoffSeconds * jitter * 1000)
}
