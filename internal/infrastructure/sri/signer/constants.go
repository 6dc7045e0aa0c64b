// Constantes para firma XAdES-BES de comprobantes electrónicos SRI.

package signer

// Namespaces y algoritmos XMLDSig / XAdES.
//
// El SRI valida contra RSA-SHA1 y digest SHA-1 con C14N inclusivo: el par de
// algoritmos es fijo por especificación del receptor y no debe "mejorarse"
// a SHA-256 de forma silenciosa, porque la validación remota fallaría.
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// Type de la Reference que apunta a SignedProperties (XAdES §6.3.1).
	SignedPropertiesType = "http://uri.etsi.org/01903#SignedProperties"
)

// DefaultRootID id que se asegura en el elemento raíz del comprobante si no
// trae uno; la Reference del documento apunta a "#" + este valor.
const DefaultRootID = "comprobante"
