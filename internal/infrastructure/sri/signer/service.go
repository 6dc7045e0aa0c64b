// Servicio de firma digital XAdES-BES para comprobantes electrónicos SRI.
// Añade <ds:Signature> como último hijo del elemento raíz (firma envolvente),
// con tres referencias: el comprobante (transformada enveloped), las
// SignedProperties y el KeyInfo.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// DigitalSignatureService implementa sri.Signer con firma XAdES-BES.
// El reloj y la fuente de ids de elemento son inyectables para que la firma
// sea reproducible en tests (misma hora + mismos ids ⇒ misma firma).
type DigitalSignatureService struct {
	now    func() time.Time
	nextID func() int
}

// NewDigitalSignatureService crea el servicio con reloj real e ids aleatorios.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{
		now:    time.Now,
		nextID: randomElementID,
	}
}

// NewDeterministic crea el servicio con hora fija e ids secuenciales desde
// seed. Solo para tests.
func NewDeterministic(at time.Time, seed int) *DigitalSignatureService {
	n := seed
	return &DigitalSignatureService{
		now: func() time.Time { return at },
		nextID: func() int {
			n++
			return n
		},
	}
}

// Sign implementa sri.Signer. Firma el XML y devuelve el documento con el
// nodo ds:Signature añadido; el contenido original no se altera salvo por la
// eliminación de firmas previas (re-firmado idempotente) y el id de la raíz.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("sri: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("sri: el certificado debe incluir llave privada RSA")
	}
	x509Cert := cert.Leaf
	if x509Cert == nil {
		var err error
		x509Cert, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("sri: parsear certificado: %w", err)
		}
	}
	if err := CheckValidity(x509Cert, s.now()); err != nil {
		return nil, err
	}

	// 1) Parsear, asegurar id en la raíz y retirar firmas previas.
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("sri: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("sri: documento sin raíz")
	}
	if root.SelectAttrValue("id", "") == "" {
		root.CreateAttr("id", DefaultRootID)
	}
	rootID := root.SelectAttrValue("id", DefaultRootID)
	for _, child := range root.ChildElements() {
		if child.Tag == "Signature" {
			root.RemoveChild(child)
		}
	}

	// 2) Digest del comprobante canonicalizado (sin firma).
	cleanDoc, err := serialize(doc)
	if err != nil {
		return nil, err
	}
	docDigestB64, err := digestC14N(cleanDoc)
	if err != nil {
		return nil, fmt.Errorf("sri: digest del comprobante: %w", err)
	}

	// Ids de elementos de la firma.
	sigID := s.nextID()
	ids := signatureIDs{
		signature:        fmt.Sprintf("Signature%d", sigID),
		signedProperties: fmt.Sprintf("Signature%d-SignedProperties%d", sigID, s.nextID()),
		signedInfo:       fmt.Sprintf("Signature-SignedInfo%d", s.nextID()),
		signatureValue:   fmt.Sprintf("SignatureValue%d", s.nextID()),
		certificate:      fmt.Sprintf("Certificate%d", s.nextID()),
		object:           fmt.Sprintf("Signature%d-Object%d", sigID, s.nextID()),
		docReference:     fmt.Sprintf("Reference-ID-%d", s.nextID()),
		spReference:      fmt.Sprintf("SignedPropertiesID%d", s.nextID()),
	}

	// 3) SignedProperties: hora de firma, digest del certificado, emisor+serial.
	signingTime := s.now().UTC().Format("2006-01-02T15:04:05Z")
	certDigestB64, issuerName, serial := CertDigestAndIssuerSerial(x509Cert)
	signedPropsXML := buildSignedProperties(ids, signingTime, certDigestB64, issuerName, serial)
	signedPropsDigestB64, err := digestC14N([]byte(signedPropsXML))
	if err != nil {
		return nil, fmt.Errorf("sri: digest de SignedProperties: %w", err)
	}

	// 4) KeyInfo: certificado Base64 + módulo/exponente RSA públicos.
	keyInfoXML := buildKeyInfo(ids, x509Cert, &priv.PublicKey)
	keyInfoDigestB64, err := digestC14N([]byte(keyInfoXML))
	if err != nil {
		return nil, fmt.Errorf("sri: digest de KeyInfo: %w", err)
	}

	// 5) SignedInfo con las tres referencias.
	signedInfoXML := buildSignedInfo(ids, rootID, docDigestB64, signedPropsDigestB64, keyInfoDigestB64)

	// 6) Canonicalizar SignedInfo y firmarlo con RSA-SHA1.
	canonSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("sri: canonicalizar SignedInfo: %w", err)
	}
	signHash := sha1.Sum(canonSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("sri: firmar SignedInfo: %w", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 7) Ensamblar ds:Signature y añadirlo como último hijo de la raíz.
	signatureXML := assembleSignature(ids, signedInfoXML, signatureValueB64, keyInfoXML, signedPropsXML)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("sri: parsear nodo Signature: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		root.AddChild(sigRoot)
	}
	return serialize(doc)
}

type signatureIDs struct {
	signature        string
	signedProperties string
	signedInfo       string
	signatureValue   string
	certificate      string
	object           string
	docReference     string
	spReference      string
}

// buildSignedProperties declara los namespaces ds y xades en el propio nodo
// para que su canonicalización aislada coincida con la del documento firmado.
func buildSignedProperties(ids signatureIDs, signingTime, certDigestB64, issuerName, serial string) string {
	var sb strings.Builder
	sb.WriteString(`<etsi:SignedProperties xmlns:ds="` + NamespaceDS + `" xmlns:etsi="` + NamespaceXAdES + `" Id="` + ids.signedProperties + `">`)
	sb.WriteString(`<etsi:SignedSignatureProperties>`)
	sb.WriteString(`<etsi:SigningTime>` + signingTime + `</etsi:SigningTime>`)
	sb.WriteString(`<etsi:SigningCertificate><etsi:Cert>`)
	sb.WriteString(`<etsi:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></etsi:CertDigest>`)
	sb.WriteString(`<etsi:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName>`)
	sb.WriteString(`<ds:X509SerialNumber>` + serial + `</ds:X509SerialNumber></etsi:IssuerSerial>`)
	sb.WriteString(`</etsi:Cert></etsi:SigningCertificate>`)
	sb.WriteString(`</etsi:SignedSignatureProperties>`)
	sb.WriteString(`<etsi:SignedDataObjectProperties>`)
	sb.WriteString(`<etsi:DataObjectFormat ObjectReference="#` + ids.docReference + `">`)
	sb.WriteString(`<etsi:Description>contenido comprobante</etsi:Description>`)
	sb.WriteString(`<etsi:MimeType>text/xml</etsi:MimeType>`)
	sb.WriteString(`</etsi:DataObjectFormat>`)
	sb.WriteString(`</etsi:SignedDataObjectProperties>`)
	sb.WriteString(`</etsi:SignedProperties>`)
	return sb.String()
}

func buildKeyInfo(ids signatureIDs, cert *x509.Certificate, pub *rsa.PublicKey) string {
	certB64 := base64.StdEncoding.EncodeToString(cert.Raw)
	modulusB64 := base64.StdEncoding.EncodeToString(pub.N.Bytes())
	exponentB64 := base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	var sb strings.Builder
	sb.WriteString(`<ds:KeyInfo xmlns:ds="` + NamespaceDS + `" Id="` + ids.certificate + `">`)
	sb.WriteString(`<ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data>`)
	sb.WriteString(`<ds:KeyValue><ds:RSAKeyValue>`)
	sb.WriteString(`<ds:Modulus>` + modulusB64 + `</ds:Modulus>`)
	sb.WriteString(`<ds:Exponent>` + exponentB64 + `</ds:Exponent>`)
	sb.WriteString(`</ds:RSAKeyValue></ds:KeyValue>`)
	sb.WriteString(`</ds:KeyInfo>`)
	return sb.String()
}

func buildSignedInfo(ids signatureIDs, rootID, docDigestB64, spDigestB64, keyInfoDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `" Id="` + ids.signedInfo + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA1 + `"/>`)
	// Referencia 1: SignedProperties (tipada según XAdES)
	sb.WriteString(`<ds:Reference Id="` + ids.spReference + `" Type="` + SignedPropertiesType + `" URI="#` + ids.signedProperties + `">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + spDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	// Referencia 2: KeyInfo
	sb.WriteString(`<ds:Reference URI="#` + ids.certificate + `">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + keyInfoDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	// Referencia 3: el comprobante, con transformada enveloped
	sb.WriteString(`<ds:Reference Id="` + ids.docReference + `" URI="#` + rootID + `">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func assembleSignature(ids signatureIDs, signedInfoXML, signatureValueB64, keyInfoXML, signedPropsXML string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:etsi="` + NamespaceXAdES + `" Id="` + ids.signature + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue Id="` + ids.signatureValue + `">` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(keyInfoXML)
	sb.WriteString(`<ds:Object Id="` + ids.object + `">`)
	sb.WriteString(`<etsi:QualifyingProperties Target="#` + ids.signature + `">`)
	sb.WriteString(signedPropsXML)
	sb.WriteString(`</etsi:QualifyingProperties>`)
	sb.WriteString(`</ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

// ── helpers ───────────────────────────────────────────────────────────────────

// canonicalize aplica C14N inclusivo sin comentarios.
func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	return c14n.Canonicalize(dec)
}

// digestC14N canonicaliza y devuelve el SHA-1 en Base64.
func digestC14N(data []byte) (string, error) {
	canon, err := canonicalize(data)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canon)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func serialize(doc *etree.Document) ([]byte, error) {
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// randomElementID genera un id numérico de 6 dígitos para los elementos de la
// firma, como los emiten los firmadores de referencia.
func randomElementID() int {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 100000
	}
	return int(n.Int64()) + 100000
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// Asegurar que DigitalSignatureService implementa sri.Signer.
var _ sri.Signer = (*DigitalSignatureService)(nil)
