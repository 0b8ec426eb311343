package mtls

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEnrollmentRequestBuildsParsableCSR(t *testing.T) {
	kp, err := GenerateEnrollmentRequest(EnrollmentSubject{
		Country:           "CA",
		Region:            "QC",
		Locality:          "Montreal",
		AuthorizationCode: "AUTH123",
		TaxRegistrationID: "1234567890",
		Surname:           "Doe",
		GivenName:         "Jane",
	})
	require.NoError(t, err)
	require.NotNil(t, kp.PrivateKey)

	require.False(t, strings.Contains(pemBody(t, kp.CSRPEM), "\n"))

	block := parsePEMBlock(t, kp.CSRPEM)
	csr, err := x509.ParseCertificateRequest(block)
	require.NoError(t, err)
	require.Equal(t, "1234567890", csr.Subject.CommonName)
	require.Equal(t, []string{"AUTH123"}, csr.Subject.Organization)

	found := false
	for _, ext := range csr.Extensions {
		if ext.Id.String() == "2.5.29.15" {
			found = true
			require.True(t, ext.Critical)
		}
	}
	require.True(t, found)
}

func TestEnroll_ParsesCertificateAndChain(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"certificate": "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----\n",
			"chain":       "-----BEGIN CERTIFICATE-----\ndef\n-----END CERTIFICATE-----\n",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	result, err := client.Enroll(context.Background(), map[string]string{"IdPartn": "partner-1"}, []byte("csr-pem"), false)
	require.NoError(t, err)
	assert.Contains(t, string(result.CertificatePEM), "abc")
	assert.Contains(t, string(result.ChainPEM), "def")
	assert.Equal(t, "partner-1", gotHeaders.Get("IdPartn"))
	assert.Equal(t, "csr-pem", gotBody["csr"])
	assert.NotContains(t, gotBody, "action")
}

func TestEnroll_RevokeOmitsCertificateRequirement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "revoke", body["action"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "revoked"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	result, err := client.Enroll(context.Background(), nil, []byte("csr-pem"), true)
	require.NoError(t, err)
	assert.Nil(t, result.CertificatePEM)
	assert.Equal(t, "revoked", result.Raw["status"])
}

func TestEnroll_RejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid csr"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.Enroll(context.Background(), nil, []byte("csr-pem"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func pemBody(t *testing.T, pemBytes []byte) string {
	t.Helper()
	s := string(pemBytes)
	lines := strings.Split(strings.TrimSpace(s), "\n")
	require.Len(t, lines, 3)
	return lines[1]
}

func parsePEMBlock(t *testing.T, pemBytes []byte) []byte {
	t.Helper()
	s := string(pemBytes)
	lines := strings.Split(strings.TrimSpace(s), "\n")
	require.Len(t, lines, 3)
	decoded, err := base64.StdEncoding.DecodeString(lines[1])
	require.NoError(t, err)
	return decoded
}
