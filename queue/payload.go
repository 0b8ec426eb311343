package queue

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"fiscalcore/domain"
	"fiscalcore/profile"
)

// buildPayload assembles the regulator request body for entity under
// profile p: the SEV (software identifiers) block, tax registration
// numbers, and the business object itself, all nested under the single
// top-level "reqTrans" key the wire protocol requires. The signature
// envelope is injected by the caller once it has been computed.
func buildPayload(entity domain.Entity, p *profile.Profile) (map[string]interface{}, error) {
	var business map[string]interface{}
	var err error

	switch e := entity.(type) {
	case domain.OrderEntity:
		business, err = orderToMap(e)
	case domain.ClosingEntity:
		business, err = closingToMap(e)
	default:
		return nil, fmt.Errorf("buildPayload: unsupported entity type %T", entity)
	}
	if err != nil {
		return nil, err
	}

	sev := map[string]interface{}{
		"software_id":        p.SoftwareID,
		"software_version":    p.SoftwareVersion,
		"protocol_version":    p.ProtocolVersion,
		"partner_version":     p.PartnerVersion,
		"certificate_code":    p.CertificateCode,
		"partner_id":          p.PartnerID,
		"certification_case":  p.CertificationCase,
	}
	// In certification the authorization code travels in the body; in
	// every other environment it travels in the CodeAutorisation header
	// instead (headersFor), never both.
	if p.Environment == "certification" {
		sev["code_autorisation"] = p.CertificateCode
	}

	reqTrans := map[string]interface{}{
		"business": business,
		"sev":      sev,
		"gst":      p.GSTNumber,
		"qst":      p.QSTNumber,
	}

	return map[string]interface{}{"reqTrans": reqTrans}, nil
}

func orderToMap(o domain.OrderEntity) (map[string]interface{}, error) {
	lines := make([]interface{}, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = map[string]interface{}{
			"description": l.Description,
			"quantity":    l.Quantity,
			"unit_price":  domain.FormatCents(domain.ToCents(l.UnitPrice)),
			"line_total":  domain.FormatCents(domain.ToCents(l.LineTotal)),
		}
	}
	taxes := make([]interface{}, len(o.TaxComponents))
	for i, t := range o.TaxComponents {
		taxes[i] = map[string]interface{}{"code": t.Code, "amount": domain.FormatCents(domain.ToCents(t.Amount))}
	}

	return map[string]interface{}{
		"order_id":       o.OrderID,
		"tenant_id":      o.TenantID,
		"branch_id":      o.BranchID,
		"device_id":      o.DeviceID,
		"category":       string(o.Category),
		"timestamp":      o.Timestamp.UTC().Format("20060102150405"),
		"lines":          lines,
		"subtotal":       domain.FormatCents(domain.ToCents(o.Subtotal)),
		"tax_components": taxes,
		"tip":            domain.FormatCents(domain.ToCents(o.Tip)),
		"grand_total":    domain.FormatCents(domain.ToCents(o.GrandTotal)),
		"payment_method": o.PaymentMethod,
		"service_type":   o.ServiceType,
	}, nil
}

func closingToMap(c domain.ClosingEntity) (map[string]interface{}, error) {
	return map[string]interface{}{
		"closing_id":  c.ClosingID,
		"tenant_id":   c.TenantID,
		"branch_id":   c.BranchID,
		"device_id":   c.DeviceID,
		"timestamp":   c.Timestamp.UTC().Format("20060102150405"),
		"grand_total": domain.FormatCents(domain.ToCents(c.GrandTotal)),
	}, nil
}

// headersFor builds the required request headers: any missing one
// causes the regulator to classify the request INVALID_HEADER.
func headersFor(p *profile.Profile) map[string]string {
	headers := map[string]string{
		"Environnement":        string(p.Environment),
		"Initiale":             "false",
		"CasEssai":             p.CertificationCase,
		"VersionParn":          p.PartnerVersion,
		"IdSev":                p.SoftwareID,
		"VersionSev":           p.SoftwareVersion,
		"CodeCertificat":       p.CertificateCode,
		"IdPartn":              p.PartnerID,
		"VersionProtocolAppli": p.ProtocolVersion,
		"SignTransmise":        "true",
		"EmprCertifTransmis":   "true",
		"NoTPS":                p.GSTNumber,
		"NoTVQ":                p.QSTNumber,
	}
	if p.Environment != "certification" {
		headers["CodeAutorisation"] = p.CertificateCode
	}
	return headers
}

func parseECPrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	return x509.ParseECPrivateKey(der)
}
