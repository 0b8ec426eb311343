// Package canon implements the canonical encoder and ECDSA-P-256 signer:
// a deterministic byte-for-byte serialization of a transaction value,
// SHA-256 hashing of that serialization, and a
// signature over the hash chained to the previous receipt for the same
// (tenant, device) pair.
//
// Canonicalization runs ahead of any transport-layer re-encoding — once a
// value is canonicalized and signed, nothing downstream may touch key
// order or whitespace without invalidating the signature on the
// receiver side.
package canon

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// PreviousSentinel is the 88 "=" characters used as previous_signature for
// the first receipt in a (tenant, device) chain.
const PreviousSentinel = "========================================================================================"

func init() {
	if len(PreviousSentinel) != 88 {
		panic("canon: sentinel length invariant broken")
	}
}

// Envelope is the signature bundle attached to a signed transaction.
type Envelope struct {
	Previous    string `json:"previous"`
	Current     string `json:"current"`
	Hash        string `json:"hash"`
	Fingerprint string `json:"certificate_fingerprint"`
}

// Canonicalize renders v as the deterministic serialization this core
// relies on: null as the literal null, scalars in minimal JSON form, arrays
// bracket-joined in order, and mappings with keys sorted lexicographically
// by code point. No insignificant whitespace is emitted.
func Canonicalize(v interface{}) ([]byte, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canon: encode string: %w", err)
		}
		b.Write(encoded)
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(formatNumber(t))
	case []interface{}:
		b.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyEncoded, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("canon: encode key: %w", err)
			}
			b.Write(keyEncoded)
			b.WriteByte(':')
			if err := encode(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
	return nil
}

// formatNumber renders a float64 in minimal JSON form: integral values
// with no fractional part and no trailing zeros.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Hash computes canonical_hash(v) := SHA-256(canonical(v)) as 64 lowercase
// hex characters.
func Hash(v interface{}) (string, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint computes the SHA-256 fingerprint of a DER-encoded
// certificate as 64 lowercase hex characters.
func Fingerprint(derCert []byte) string {
	sum := sha256.Sum256(derCert)
	return hex.EncodeToString(sum[:])
}

// p256FieldBytes is the byte width of a P-256 scalar (r or s). The
// signature envelope is the fixed-width concatenation r‖s rather than
// ASN.1 DER: DER's variable-length integer encoding would make
// current_signature's base64 length vary with each signing, breaking the
// fixed 88-character length the envelope requires.
const p256FieldBytes = 32

// Sign builds the full signature envelope for v: canonicalize v, hash
// it, sign the hash with privateKey, and pair
// the result with the certificate fingerprint and supplied previous
// signature. current_signature is always 88 base64 characters.
func Sign(v interface{}, privateKey *ecdsa.PrivateKey, derCert []byte, previous string) (*Envelope, error) {
	hash, err := Hash(v)
	if err != nil {
		return nil, fmt.Errorf("canon: hash transaction: %w", err)
	}

	digest := sha256.Sum256([]byte(hash))
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("canon: sign digest: %w", err)
	}
	current := base64.StdEncoding.EncodeToString(fixedWidthRS(r, s))

	if previous == "" {
		previous = PreviousSentinel
	}

	return &Envelope{
		Previous:    previous,
		Current:     current,
		Hash:        hash,
		Fingerprint: Fingerprint(derCert),
	}, nil
}

// fixedWidthRS concatenates r and s as two 32-byte big-endian fields,
// zero-padded on the left, yielding a constant 64-byte signature.
func fixedWidthRS(r, s *big.Int) []byte {
	out := make([]byte, 2*p256FieldBytes)
	r.FillBytes(out[:p256FieldBytes])
	s.FillBytes(out[p256FieldBytes:])
	return out
}

// Verify checks that sigBase64 is a valid ECDSA-P-256/SHA-256 signature,
// in the fixed-width r‖s encoding Sign produces, over hash under the
// given certificate's public key. hash must be the 64-hex canonical hash
// string; the digest verified is SHA-256 of that string, the same
// pairing Sign produces.
func Verify(hash string, sigBase64 string, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("canon: certificate public key is not ECDSA")
	}
	raw, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return fmt.Errorf("canon: signature is not valid base64: %w", err)
	}
	if len(raw) != 2*p256FieldBytes {
		return fmt.Errorf("canon: signature must be %d bytes, got %d", 2*p256FieldBytes, len(raw))
	}
	r := new(big.Int).SetBytes(raw[:p256FieldBytes])
	s := new(big.Int).SetBytes(raw[p256FieldBytes:])

	digest := sha256.Sum256([]byte(hash))
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return fmt.Errorf("canon: signature verification failed")
	}
	return nil
}

// ToJSONValue converts an arbitrary JSON-marshalable Go value (a struct,
// typically) into the map[string]interface{}/[]interface{}/scalar shape
// Canonicalize expects, by round-tripping it through encoding/json. This
// is how callers turn a domain struct into something canon can serialize
// deterministically regardless of its Go field order.
func ToJSONValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal value: %w", err)
	}
	var out interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canon: decode value: %w", err)
	}
	return normalizeNumbers(out), nil
}

// normalizeNumbers walks a decoded JSON value and converts json.Number
// leaves to float64 or int64 so encode's type switch can handle them.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
