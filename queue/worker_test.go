package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fiscalcore/classify"
	"fiscalcore/mtls"
)

func TestIdempotencyKey_DeterministicAndSixtyFourHex(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := idempotencyKey("production", "tenant-1", "order-1", ts, "sig-a", 2098)
	b := idempotencyKey("production", "tenant-1", "order-1", ts, "sig-a", 2098)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := idempotencyKey("production", "tenant-1", "order-1", ts, "sig-b", 2098)
	assert.NotEqual(t, a, c)
}

func TestIdempotencyKey_DiffersByTotalCents(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := idempotencyKey("production", "tenant-1", "order-1", ts, "sig-a", 100)
	b := idempotencyKey("production", "tenant-1", "order-1", ts, "sig-a", 200)
	assert.NotEqual(t, a, b)
}

func TestExtractRegulatorTransID_FromRetourTrans(t *testing.T) {
	body := map[string]interface{}{
		"retourTrans": map[string]interface{}{
			"retourTransActu": map[string]interface{}{
				"psiNoTrans": "TX-123",
			},
		},
	}
	assert.Equal(t, "TX-123", extractRegulatorTransID(body))
}

func TestExtractRegulatorTransID_NilBody(t *testing.T) {
	assert.Equal(t, "", extractRegulatorTransID(nil))
}

func TestExtractRegulatorError_FromListErr(t *testing.T) {
	body := map[string]interface{}{
		"retourFer": map[string]interface{}{
			"listErr": []interface{}{
				map[string]interface{}{"codRetour": "ERR001", "mess": "invalid signature"},
			},
		},
	}
	code, msg := extractRegulatorError(body)
	assert.Equal(t, "ERR001", code)
	assert.Equal(t, "invalid signature", msg)
}

func TestClassifyResponse_DryRunIsAlwaysOK(t *testing.T) {
	classified := classifyResponse(mtls.Response{}, false)
	assert.Equal(t, classify.CodeOK, classified.Code)
	assert.False(t, classified.Retryable)
}

func TestClassifyResponse_TransportFailureIsRetryable(t *testing.T) {
	classified := classifyResponse(mtls.Response{Transport: classify.TransportTimeout}, true)
	assert.Equal(t, classify.CodeTempUnavailable, classified.Code)
	assert.True(t, classified.Retryable)
}

func TestClassifyResponse_HTTPStatusDrivesClassification(t *testing.T) {
	classified := classifyResponse(mtls.Response{HTTPStatus: 200}, true)
	assert.Equal(t, classify.CodeOK, classified.Code)
}
