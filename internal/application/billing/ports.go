package billing

import (
	"context"
	"crypto/tls"
)

// CertificateSource carga el certificado de firma. La implementación concreta
// lee .p12/.pem desde disco; los tests inyectan certificados generados. El
// material de llave privada solo se retiene durante la operación de firma.
type CertificateSource interface {
	Load(ctx context.Context) (tls.Certificate, error)
}

// DocumentLocker serializa las emisiones de un mismo comprobante. Dos envíos
// concurrentes de la misma clave de acceso nunca deben llegar al SRI; la
// implementación usa un advisory lock transaccional de PostgreSQL.
type DocumentLocker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}
