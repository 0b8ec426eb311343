package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fiscalcore/config"
	"fiscalcore/mtls"
	"fiscalcore/profile"
)

var (
	enrollTenant            string
	enrollBranch            string
	enrollDevice            string
	enrollEnvironment       string
	enrollPartnerID         string
	enrollSoftwareID        string
	enrollSoftwareVersion   string
	enrollProtocolVersion   string
	enrollPartnerVersion    string
	enrollCertificateCode   string
	enrollCertificationCase string
	enrollGSTNumber         string
	enrollQSTNumber         string
	enrollCountry           string
	enrollRegion            string
	enrollLocality          string
	enrollAuthorizationCode string
	enrollTaxRegistrationID string
	enrollSurname           string
	enrollGivenName         string
	enrollRevoke            bool
)

// enrollHeaders builds the required request headers for the enrollment
// call: the same identifying fields every call carries, minus the
// transaction-only signature/fingerprint/tax headers that don't exist
// before a certificate does.
func enrollHeaders(p profile.EnrollmentParams) map[string]string {
	return map[string]string{
		"Environnement":        string(p.Environment),
		"Initiale":             "true",
		"CasEssai":             p.CertificationCase,
		"VersionParn":          p.PartnerVersion,
		"IdSev":                p.SoftwareID,
		"VersionSev":           p.SoftwareVersion,
		"CodeCertificat":       p.CertificateCode,
		"IdPartn":              p.PartnerID,
		"VersionProtocolAppli": p.ProtocolVersion,
	}
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a device (or revoke its certificate with --revoke)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		ctx := cmd.Context()
		params := profile.EnrollmentParams{
			TenantID:          enrollTenant,
			BranchID:          enrollBranch,
			DeviceID:          enrollDevice,
			Environment:       config.Environment(enrollEnvironment),
			PartnerID:         enrollPartnerID,
			SoftwareID:        enrollSoftwareID,
			SoftwareVersion:   enrollSoftwareVersion,
			ProtocolVersion:   enrollProtocolVersion,
			PartnerVersion:    enrollPartnerVersion,
			CertificateCode:   enrollCertificateCode,
			CertificationCase: enrollCertificationCase,
			GSTNumber:         enrollGSTNumber,
			QSTNumber:         enrollQSTNumber,
		}

		result := map[string]interface{}{}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if enrollRevoke {
			if err := a.profiles.Revoke(ctx, enrollTenant, enrollBranch, enrollDevice); err != nil {
				result["success"] = false
				result["message"] = err.Error()
				_ = enc.Encode(result)
				return fmt.Errorf("revoke failed: %w", err)
			}
			result["success"] = true
			result["message"] = "revoked"
			return enc.Encode(result)
		}

		keyPair, err := mtls.GenerateEnrollmentRequest(mtls.EnrollmentSubject{
			Country:           enrollCountry,
			Region:            enrollRegion,
			Locality:          enrollLocality,
			AuthorizationCode: enrollAuthorizationCode,
			TaxRegistrationID: enrollTaxRegistrationID,
			Surname:           enrollSurname,
			GivenName:         enrollGivenName,
		})
		if err != nil {
			return fmt.Errorf("enroll: generate CSR: %w", err)
		}

		enrolled, err := a.mtlsClient.Enroll(ctx, enrollHeaders(params), keyPair.CSRPEM, false)
		if err != nil {
			result["success"] = false
			result["message"] = err.Error()
			_ = enc.Encode(result)
			return fmt.Errorf("enroll failed: %w", err)
		}

		if err := a.profiles.StoreEnrollment(ctx, params, keyPair.PrivateKeyPEM, enrolled.CertificatePEM, enrolled.ChainPEM); err != nil {
			result["success"] = false
			result["message"] = err.Error()
			_ = enc.Encode(result)
			return fmt.Errorf("enroll: store profile: %w", err)
		}

		result["success"] = true
		result["message"] = "enrolled"
		return enc.Encode(result)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollTenant, "tenant", "", "tenant id")
	enrollCmd.Flags().StringVar(&enrollBranch, "branch", "", "branch id")
	enrollCmd.Flags().StringVar(&enrollDevice, "device", "", "device id")
	enrollCmd.Flags().StringVar(&enrollEnvironment, "environment", "", "environment tag (development|certification|production)")
	enrollCmd.Flags().StringVar(&enrollPartnerID, "partner-id", "", "partner identifier")
	enrollCmd.Flags().StringVar(&enrollSoftwareID, "software-id", "", "software identifier")
	enrollCmd.Flags().StringVar(&enrollSoftwareVersion, "software-version", "", "software version")
	enrollCmd.Flags().StringVar(&enrollProtocolVersion, "protocol-version", "", "protocol version")
	enrollCmd.Flags().StringVar(&enrollPartnerVersion, "partner-version", "", "partner version")
	enrollCmd.Flags().StringVar(&enrollCertificateCode, "certificate-code", "", "certificate code")
	enrollCmd.Flags().StringVar(&enrollCertificationCase, "certification-case", "", "certification test case identifier")
	enrollCmd.Flags().StringVar(&enrollGSTNumber, "gst", "", "GST registration number")
	enrollCmd.Flags().StringVar(&enrollQSTNumber, "qst", "", "QST registration number")
	enrollCmd.Flags().StringVar(&enrollCountry, "country", "CA", "CSR subject country")
	enrollCmd.Flags().StringVar(&enrollRegion, "region", "", "CSR subject region/province")
	enrollCmd.Flags().StringVar(&enrollLocality, "locality", "", "CSR subject locality")
	enrollCmd.Flags().StringVar(&enrollAuthorizationCode, "authorization-code", "", "regulator authorization code (CSR organization field)")
	enrollCmd.Flags().StringVar(&enrollTaxRegistrationID, "tax-registration-id", "", "tax registration id (CSR common name)")
	enrollCmd.Flags().StringVar(&enrollSurname, "surname", "", "device operator surname")
	enrollCmd.Flags().StringVar(&enrollGivenName, "given-name", "", "device operator given name")
	enrollCmd.Flags().BoolVar(&enrollRevoke, "revoke", false, "revoke the existing certificate instead of issuing a new one")

	for _, name := range []string{"tenant", "branch", "device"} {
		_ = enrollCmd.MarkFlagRequired(name)
	}
}
