package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/config"
	"fiscalcore/domain"
	"fiscalcore/profile"
)

func testProfile(environment config.Environment) *profile.Profile {
	return &profile.Profile{
		Environment:       environment,
		SoftwareID:        "sev-1",
		SoftwareVersion:   "1.0.0",
		ProtocolVersion:   "2.0",
		PartnerVersion:    "1.0",
		CertificateCode:   "cert-code",
		PartnerID:         "partner-1",
		CertificationCase: "",
		GSTNumber:         "123456789",
		QSTNumber:         "987654321",
	}
}

func TestBuildPayload_Order(t *testing.T) {
	order := &domain.OrderSnapshot{
		OrderID:   "order-1",
		TenantID:  "tenant-1",
		BranchID:  "branch-1",
		DeviceID:  "device-1",
		Category:  domain.CategorySale,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Lines: []domain.LineItem{
			{Description: "widget", Quantity: 2, UnitPrice: 9.99, LineTotal: 19.98},
		},
		Subtotal:      19.98,
		TaxComponents: []domain.TaxComponent{{Code: "GST", Amount: 1.00}},
		GrandTotal:    20.98,
	}

	payload, err := buildPayload(domain.OrderEntity{OrderSnapshot: order}, testProfile(config.EnvProduction))
	require.NoError(t, err)

	reqTrans, ok := payload["reqTrans"].(map[string]interface{})
	require.True(t, ok)

	business, ok := reqTrans["business"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "order-1", business["order_id"])
	assert.Equal(t, "20260102030405", business["timestamp"])
	assert.Equal(t, "19.98", business["subtotal"])
	assert.Equal(t, "20.98", business["grand_total"])

	lines, ok := business["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]interface{})
	assert.Equal(t, "9.99", line["unit_price"])
	assert.Equal(t, "19.98", line["line_total"])

	taxes, ok := business["tax_components"].([]interface{})
	require.True(t, ok)
	require.Len(t, taxes, 1)
	assert.Equal(t, "1.00", taxes[0].(map[string]interface{})["amount"])

	sev, ok := reqTrans["sev"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sev-1", sev["software_id"])
	assert.Equal(t, "123456789", reqTrans["gst"])
	_, hasAuthCode := sev["code_autorisation"]
	assert.False(t, hasAuthCode, "production profile should not carry the body authorization code")
}

func TestBuildPayload_CertificationIncludesBodyAuthorizationCode(t *testing.T) {
	closing := &domain.ClosingSnapshot{
		ClosingID:  "closing-1",
		TenantID:   "tenant-1",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		GrandTotal: 5,
	}

	payload, err := buildPayload(domain.ClosingEntity{ClosingSnapshot: closing}, testProfile(config.EnvCertification))
	require.NoError(t, err)

	reqTrans := payload["reqTrans"].(map[string]interface{})
	sev := reqTrans["sev"].(map[string]interface{})
	assert.Equal(t, "cert-code", sev["code_autorisation"])
}

func TestBuildPayload_Closing(t *testing.T) {
	closing := &domain.ClosingSnapshot{
		ClosingID:  "closing-1",
		TenantID:   "tenant-1",
		BranchID:   "branch-1",
		DeviceID:   "device-1",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		GrandTotal: 100.00,
	}

	payload, err := buildPayload(domain.ClosingEntity{ClosingSnapshot: closing}, testProfile(config.EnvProduction))
	require.NoError(t, err)

	reqTrans := payload["reqTrans"].(map[string]interface{})
	business := reqTrans["business"].(map[string]interface{})
	assert.Equal(t, "closing-1", business["closing_id"])
}

func TestHeadersFor_CertificationOmitsAuthorizationCode(t *testing.T) {
	headers := headersFor(testProfile(config.EnvCertification))
	_, present := headers["CodeAutorisation"]
	assert.False(t, present)
	assert.Equal(t, "certification", headers["Environnement"])
}

func TestHeadersFor_ProductionIncludesAuthorizationCode(t *testing.T) {
	headers := headersFor(testProfile(config.EnvProduction))
	assert.Equal(t, "cert-code", headers["CodeAutorisation"])
}
