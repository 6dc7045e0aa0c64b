// Carga y verificación del certificado de firma (.p12/PKCS#12 o par PEM).

package signer

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// Errores de certificado, distinguibles de los de transporte para que el
// operador sepa si debe renovar el certificado o revisar la red.
var (
	ErrCertExpired     = errors.New("sri: certificado de firma expirado")
	ErrCertNotYetValid = errors.New("sri: certificado de firma aún no vigente")
)

// NearExpiryDays umbral por defecto para la advertencia de expiración próxima.
const NearExpiryDays = 30

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// Rechaza certificados fuera de su ventana de validez antes de cualquier
// intento de firma.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	return DecodeP12(data, password)
}

// DecodeP12 decodifica el contenedor PKCS#12 en memoria.
func DecodeP12(data []byte, password string) (tls.Certificate, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	if err := CheckValidity(cert, time.Now()); err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (separados o el
// mismo archivo con ambos bloques).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, perr := x509.ParseCertificate(cert.Certificate[0]); perr == nil {
			cert.Leaf = leaf
		}
	}
	if cert.Leaf != nil {
		if err := CheckValidity(cert.Leaf, time.Now()); err != nil {
			return tls.Certificate{}, err
		}
	}
	return cert, nil
}

// CheckValidity verifica la ventana de validez del certificado.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: vigente desde %s", ErrCertNotYetValid, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: expiró el %s", ErrCertExpired, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// ExpiresWithin indica si el certificado expira dentro de d (advertencia no
// fatal para el operador; la firma sigue siendo válida).
func ExpiresWithin(cert *x509.Certificate, d time.Duration) bool {
	return time.Now().Add(d).After(cert.NotAfter)
}

// CertDigestAndIssuerSerial devuelve el digest SHA-1 del certificado (Base64),
// el nombre del emisor y el serial decimal, como exige SigningCertificate.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64, issuerName, serial string) {
	h := sha1.Sum(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString(h[:])
	issuerName = cert.Issuer.String()
	serial = cert.SerialNumber.String()
	return digestB64, issuerName, serial
}
