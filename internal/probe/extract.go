package probe

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"strings"
	"time"

	"github.com/dandantas/certwatch/internal/model"
)

// NotAfterLayout is the textual form of a certificate expiry, for example
// "Dec 31 23:59:59 2029 GMT" or "Jan  5 08:00:00 2030 GMT".
const NotAfterLayout = "Jan _2 15:04:05 2006 GMT"

// Attribute is a single name attribute of a certificate subject or issuer
type Attribute struct {
	Name  string
	Value string
}

// AltName is a subject alternative name entry
type AltName struct {
	Type  string
	Value string
}

// Alternative name types
const (
	AltNameDNS   = "DNS"
	AltNameIP    = "IP Address"
	AltNameEmail = "email"
	AltNameURI   = "URI"
)

// RawCertificate is a decoded certificate record, independent of the TLS
// library that produced it
type RawCertificate struct {
	NotAfter string
	Subject  []Attribute
	Issuer   []Attribute
	AltNames []AltName
}

var attributeNames = map[string]string{
	"2.5.4.3":  "commonName",
	"2.5.4.5":  "serialNumber",
	"2.5.4.6":  "countryName",
	"2.5.4.7":  "localityName",
	"2.5.4.8":  "stateOrProvinceName",
	"2.5.4.9":  "streetAddress",
	"2.5.4.10": "organizationName",
	"2.5.4.11": "organizationalUnitName",
	"2.5.4.17": "postalCode",
}

// FromX509 converts a parsed certificate into a RawCertificate
func FromX509(cert *x509.Certificate) *RawCertificate {
	if cert == nil {
		return nil
	}

	raw := &RawCertificate{
		NotAfter: cert.NotAfter.UTC().Format(NotAfterLayout),
		Subject:  attributes(cert.Subject.Names),
		Issuer:   attributes(cert.Issuer.Names),
	}

	for _, name := range cert.DNSNames {
		raw.AltNames = append(raw.AltNames, AltName{Type: AltNameDNS, Value: name})
	}
	for _, ip := range cert.IPAddresses {
		raw.AltNames = append(raw.AltNames, AltName{Type: AltNameIP, Value: ip.String()})
	}
	for _, email := range cert.EmailAddresses {
		raw.AltNames = append(raw.AltNames, AltName{Type: AltNameEmail, Value: email})
	}
	for _, uri := range cert.URIs {
		raw.AltNames = append(raw.AltNames, AltName{Type: AltNameURI, Value: uri.String()})
	}

	return raw
}

func attributes(names []pkix.AttributeTypeAndValue) []Attribute {
	out := make([]Attribute, 0, len(names))
	for _, atv := range names {
		name, ok := attributeNames[atv.Type.String()]
		if !ok {
			name = atv.Type.String()
		}
		out = append(out, Attribute{Name: name, Value: fmt.Sprint(atv.Value)})
	}
	return out
}

// Extract derives the reported certificate fields. It never fails: an
// unparseable expiry leaves ExpiryTS unset and NotAfter verbatim.
func Extract(raw *RawCertificate) model.CertFields {
	fields := model.CertFields{SubjectAltNames: []string{}}
	if raw == nil {
		return fields
	}

	fields.NotAfter = raw.NotAfter
	if ts, ok := ParseNotAfter(raw.NotAfter); ok {
		fields.ExpiryTS = &ts
	}

	fields.CommonName = commonName(raw.Subject)
	fields.IssuerName = issuerName(raw.Issuer)

	for _, san := range raw.AltNames {
		if san.Type == AltNameDNS {
			fields.SubjectAltNames = append(fields.SubjectAltNames, san.Value)
		}
	}

	return fields
}

// ParseNotAfter converts a textual expiry into unix seconds, interpreted as UTC
func ParseNotAfter(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	t, err := time.ParseInLocation(NotAfterLayout, s, time.UTC)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func commonName(subject []Attribute) string {
	for _, a := range subject {
		if isCommonName(a.Name) {
			return a.Value
		}
	}
	return ""
}

func issuerName(issuer []Attribute) string {
	seen := make(map[string]bool)
	var parts []string
	for _, a := range issuer {
		if !isCommonName(a.Name) && !isOrganization(a.Name) {
			continue
		}
		if a.Value == "" || seen[a.Value] {
			continue
		}
		seen[a.Value] = true
		parts = append(parts, a.Value)
	}
	return strings.Join(parts, ", ")
}

func isCommonName(name string) bool {
	return strings.EqualFold(name, "commonName") || strings.EqualFold(name, "CN")
}

func isOrganization(name string) bool {
	return strings.EqualFold(name, "organizationName") || strings.EqualFold(name, "O")
}
