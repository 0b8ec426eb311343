// Package profile implements the compliance profile resolver: given a
// (tenant, branch, device) triple, return the active device identifiers,
// software identifiers, environment tag, and the decrypted private-key +
// certificate material needed to sign and submit transactions.
// Resolution is read-only.
package profile

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fiscalcore/config"
	"fiscalcore/secrets"
)

// Sentinel operational errors, checked with errors.Is, per SPEC_FULL.md's
// ambient error-handling stack.
var (
	ErrProfileNotFound = errors.New("profile: not found")
	ErrProfileInvalid  = errors.New("profile: invalid")
)

// Record is the GORM-backed row for one device's compliance profile.
type Record struct {
	ID                   uint   `gorm:"primaryKey"`
	TenantID             string `gorm:"index:idx_profile_lookup,priority:1"`
	BranchID             string `gorm:"index:idx_profile_lookup,priority:2"`
	DeviceID             string `gorm:"index:idx_profile_lookup,priority:3"`
	Environment          string
	PartnerID            string
	CertificateCode      string
	SoftwareID           string
	SoftwareVersion      string
	ProtocolVersion      string
	PartnerVersion       string
	CertificationCase    string
	PrivateKeyEncrypted  string // ciphertext wire format from secrets.Store
	CertificatePEM       string
	CertificateChainPEM  string
	GSTNumber            string
	QSTNumber            string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Record) TableName() string { return "compliance_profiles" }

// Migrate runs GORM auto-migration for the compliance profile table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Profile is the resolved, decrypted bundle the rest of the core consumes.
// Private key and certificate are opaque PEM byte strings, modelled
// alongside the typed keypair value object rather than parsed eagerly.
type Profile struct {
	TenantID          string
	BranchID          string
	DeviceID          string
	Environment       config.Environment
	PartnerID         string
	CertificateCode   string
	SoftwareID        string
	SoftwareVersion   string
	ProtocolVersion   string
	PartnerVersion    string
	CertificationCase string
	PrivateKeyPEM     []byte
	CertificatePEM    []byte
	GSTNumber         string
	QSTNumber         string
}

// Resolver resolves compliance profiles from the durable store, decrypting
// private-key material through the secret store.
type Resolver struct {
	db     *gorm.DB
	secret *secrets.Store
}

// NewResolver creates a Resolver over the given database handle.
func NewResolver(db *gorm.DB, secret *secrets.Store) *Resolver {
	return &Resolver{db: db, secret: secret}
}

// Resolve returns the active profile for (tenant, branch, device), or
// ErrProfileNotFound if none is active.
func (r *Resolver) Resolve(ctx context.Context, tenantID, branchID, deviceID string) (*Profile, error) {
	var rec Record
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ? AND device_id = ? AND is_active = ?", tenantID, branchID, deviceID, true).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: tenant=%s branch=%s device=%s", ErrProfileNotFound, tenantID, branchID, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: resolve query failed: %w", err)
	}

	plainKey, err := r.secret.Decrypt(rec.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("profile: decrypt private key: %w", err)
	}

	p := &Profile{
		TenantID:          rec.TenantID,
		BranchID:          rec.BranchID,
		DeviceID:          rec.DeviceID,
		Environment:       config.Environment(rec.Environment),
		PartnerID:         rec.PartnerID,
		CertificateCode:   rec.CertificateCode,
		SoftwareID:        rec.SoftwareID,
		SoftwareVersion:   rec.SoftwareVersion,
		ProtocolVersion:   rec.ProtocolVersion,
		PartnerVersion:    rec.PartnerVersion,
		CertificationCase: rec.CertificationCase,
		PrivateKeyPEM:     plainKey,
		CertificatePEM:    []byte(rec.CertificatePEM),
		GSTNumber:         rec.GSTNumber,
		QSTNumber:         rec.QSTNumber,
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that a resolved profile is usable: all required fields
// populated, both PEM blocks parse, environment tag recognized, and the
// key/certificate are mutually consistent.
func Validate(p *Profile) error {
	var missing []string
	if p.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if p.PartnerID == "" {
		missing = append(missing, "partner_id")
	}
	if p.SoftwareID == "" {
		missing = append(missing, "software_id")
	}
	if p.SoftwareVersion == "" {
		missing = append(missing, "software_version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing fields %v", ErrProfileInvalid, missing)
	}
	if !config.Environment(p.Environment).Valid() {
		return fmt.Errorf("%w: unknown environment %q", ErrProfileInvalid, p.Environment)
	}

	keyBlock, _ := pem.Decode(p.PrivateKeyPEM)
	if keyBlock == nil {
		return fmt.Errorf("%w: private key is not valid PEM", ErrProfileInvalid)
	}
	privKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("%w: private key does not parse as EC key: %v", ErrProfileInvalid, err)
	}

	certBlock, _ := pem.Decode(p.CertificatePEM)
	if certBlock == nil {
		return fmt.Errorf("%w: certificate is not valid PEM", ErrProfileInvalid)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("%w: certificate does not parse: %v", ErrProfileInvalid, err)
	}

	if !privKey.PublicKey.Equal(cert.PublicKey) {
		return fmt.Errorf("%w: private key does not match certificate public key", ErrProfileInvalid)
	}

	return nil
}

// EnrollmentParams carries the profile identifiers the enroll command
// gathers up front, before any certificate exists for the device.
type EnrollmentParams struct {
	TenantID          string
	BranchID          string
	DeviceID          string
	Environment       config.Environment
	PartnerID         string
	SoftwareID        string
	SoftwareVersion   string
	ProtocolVersion   string
	PartnerVersion    string
	CertificateCode   string
	CertificationCase string
	GSTNumber         string
	QSTNumber         string
}

// StoreEnrollment persists a freshly issued certificate for (tenant,
// branch, device): the private key is re-encrypted through the secret
// store before it ever touches the database, and the row is activated
// so Resolve can find it. An existing row for the same device is
// updated in place; otherwise one is created.
func (r *Resolver) StoreEnrollment(ctx context.Context, p EnrollmentParams, privateKeyPEM, certificatePEM, chainPEM []byte) error {
	ciphertext, err := r.secret.Encrypt(privateKeyPEM)
	if err != nil {
		return fmt.Errorf("profile: encrypt private key: %w", err)
	}

	update := Record{
		Environment:         string(p.Environment),
		PartnerID:           p.PartnerID,
		CertificateCode:     p.CertificateCode,
		SoftwareID:          p.SoftwareID,
		SoftwareVersion:     p.SoftwareVersion,
		ProtocolVersion:     p.ProtocolVersion,
		PartnerVersion:      p.PartnerVersion,
		CertificationCase:   p.CertificationCase,
		PrivateKeyEncrypted: ciphertext,
		CertificatePEM:      string(certificatePEM),
		CertificateChainPEM: string(chainPEM),
		GSTNumber:           p.GSTNumber,
		QSTNumber:           p.QSTNumber,
		IsActive:            true,
	}

	err = r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ? AND device_id = ?", p.TenantID, p.BranchID, p.DeviceID).
		Assign(update).
		FirstOrCreate(&Record{TenantID: p.TenantID, BranchID: p.BranchID, DeviceID: p.DeviceID}).Error
	if err != nil {
		return fmt.Errorf("profile: store enrollment: %w", err)
	}
	return nil
}

// Revoke deactivates the profile for (tenant, branch, device), annulling
// its certificate. The row and its key material are left in place (an
// operator can re-run enrollment to reactivate it); only the active flag
// flips, so a concurrent in-flight Resolve never observes a half-cleared
// row.
func (r *Resolver) Revoke(ctx context.Context, tenantID, branchID, deviceID string) error {
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("tenant_id = ? AND branch_id = ? AND device_id = ?", tenantID, branchID, deviceID).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("profile: revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: tenant=%s branch=%s device=%s", ErrProfileNotFound, tenantID, branchID, deviceID)
	}
	return nil
}
