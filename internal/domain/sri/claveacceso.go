// Package sri: generación y validación de la clave de acceso de comprobantes
// electrónicos SRI (Ecuador). La clave tiene 49 dígitos:
//
//	fechaEmision(8 ddmmaaaa) + codDoc(2) + ruc(13) + ambiente(1) +
//	estab(3) + ptoEmi(3) + secuencial(9) + codigoNumerico(8) +
//	tipoEmision(1) + digitoVerificador(1)
//
// El dígito verificador es módulo 11 sobre los 48 primeros dígitos, con pesos
// 2..7 cíclicos de derecha a izquierda y los casos especiales 11→0 y 10→1.
package sri

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// ClaveAccesoLen longitud total de la clave de acceso.
const ClaveAccesoLen = 49

// ClaveParams contiene los datos para generar la clave de acceso.
type ClaveParams struct {
	FechaEmision   time.Time
	CodDoc         string // Tabla 3 (01, 04, ...)
	RUC            string // 13 dígitos
	Ambiente       string // 1=pruebas, 2=producción
	Estab          string // hasta 3 dígitos
	PtoEmi         string // hasta 3 dígitos
	Secuencial     string // hasta 9 dígitos
	CodigoNumerico string // 8 dígitos; vacío = aleatorio (tests lo inyectan)
	TipoEmision    string // vacío = "1" (emisión normal)
}

// ClaveError distingue errores estructurales (longitud, caracteres) de los
// semánticos (dígito verificador, códigos desconocidos).
type ClaveError struct {
	Structural bool
	Msg        string
}

func (e ClaveError) Error() string { return e.Msg }

// ClaveValidation es el resultado de ValidateClaveAcceso con la clave
// descompuesta en sus campos.
type ClaveValidation struct {
	Valid  bool
	Errors []ClaveError

	FechaEmision   string
	CodDoc         string
	RUC            string
	Ambiente       string
	Estab          string
	PtoEmi         string
	Secuencial     string
	CodigoNumerico string
	TipoEmision    string
	DigitoVerif    string
}

// GenerateClaveAcceso construye la clave de 49 dígitos. Los campos numéricos
// se rellenan con ceros a su ancho fijo antes de concatenar. El código
// numérico se genera aleatorio por llamada salvo que ClaveParams lo traiga
// (necesario para tests deterministas). La clave se crea una sola vez por
// comprobante y es inmutable.
func GenerateClaveAcceso(p ClaveParams) (string, error) {
	if p.FechaEmision.IsZero() {
		return "", ClaveError{Structural: true, Msg: "sri: fecha de emisión requerida para la clave de acceso"}
	}
	if !pkgsri.ValidDocTypeCodes[pad(p.CodDoc, 2)] {
		return "", ClaveError{Msg: fmt.Sprintf("sri: tipo de comprobante desconocido %q", p.CodDoc)}
	}
	if !pkgsri.ValidAmbienteCodes[p.Ambiente] {
		return "", ClaveError{Msg: fmt.Sprintf("sri: ambiente desconocido %q", p.Ambiente)}
	}
	ruc := onlyDigits(p.RUC)
	if len(ruc) != 13 {
		return "", ClaveError{Structural: true, Msg: fmt.Sprintf("sri: RUC debe tener 13 dígitos, tiene %d", len(ruc))}
	}
	codNum := p.CodigoNumerico
	if codNum == "" {
		var err error
		codNum, err = randomNumericCode(8)
		if err != nil {
			return "", fmt.Errorf("sri: generar código numérico: %w", err)
		}
	}
	if len(onlyDigits(codNum)) != 8 {
		return "", ClaveError{Structural: true, Msg: "sri: el código numérico debe tener 8 dígitos"}
	}
	tipoEmision := p.TipoEmision
	if tipoEmision == "" {
		tipoEmision = pkgsri.TipoEmisionNormal
	}

	base := p.FechaEmision.Format("02012006") +
		pad(p.CodDoc, 2) +
		ruc +
		p.Ambiente +
		pad(p.Estab, 3) +
		pad(p.PtoEmi, 3) +
		pad(p.Secuencial, 9) +
		codNum +
		tipoEmision
	if len(base) != ClaveAccesoLen-1 {
		return "", ClaveError{Structural: true, Msg: fmt.Sprintf("sri: base de clave de acceso con longitud %d (esperada 48)", len(base))}
	}
	return base + fmt.Sprintf("%d", Modulo11(base)), nil
}

// Modulo11 calcula el dígito verificador sobre una cadena de dígitos con
// pesos 2..7 cíclicos de derecha a izquierda. Casos especiales del SRI:
// resultado 11 → 0, resultado 10 → 1.
func Modulo11(digits string) int {
	sum := 0
	weight := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	check := 11 - (sum % 11)
	switch check {
	case 11:
		return 0
	case 10:
		return 1
	}
	return check
}

// ValidateClaveAcceso re-deriva el dígito verificador y descompone la clave.
// Reporta por separado los errores estructurales (longitud, no-dígitos) y los
// semánticos (dígito verificador, codDoc/ambiente desconocidos, tipo de
// emisión distinto de "1").
func ValidateClaveAcceso(clave string) *ClaveValidation {
	v := &ClaveValidation{}

	if len(clave) != ClaveAccesoLen {
		v.Errors = append(v.Errors, ClaveError{Structural: true,
			Msg: fmt.Sprintf("sri: la clave debe tener %d dígitos, tiene %d", ClaveAccesoLen, len(clave))})
		return v
	}
	for i := 0; i < len(clave); i++ {
		if clave[i] < '0' || clave[i] > '9' {
			v.Errors = append(v.Errors, ClaveError{Structural: true,
				Msg: fmt.Sprintf("sri: carácter no numérico %q en posición %d", clave[i], i)})
			return v
		}
	}

	v.FechaEmision = clave[0:8]
	v.CodDoc = clave[8:10]
	v.RUC = clave[10:23]
	v.Ambiente = clave[23:24]
	v.Estab = clave[24:27]
	v.PtoEmi = clave[27:30]
	v.Secuencial = clave[30:39]
	v.CodigoNumerico = clave[39:47]
	v.TipoEmision = clave[47:48]
	v.DigitoVerif = clave[48:49]

	if expected := Modulo11(clave[:48]); int(clave[48]-'0') != expected {
		v.Errors = append(v.Errors, ClaveError{
			Msg: fmt.Sprintf("sri: dígito verificador inválido: esperado %d, recibido %c", expected, clave[48])})
	}
	if !pkgsri.ValidDocTypeCodes[v.CodDoc] {
		v.Errors = append(v.Errors, ClaveError{Msg: fmt.Sprintf("sri: tipo de comprobante desconocido %q", v.CodDoc)})
	}
	if !pkgsri.ValidAmbienteCodes[v.Ambiente] {
		v.Errors = append(v.Errors, ClaveError{Msg: fmt.Sprintf("sri: ambiente desconocido %q", v.Ambiente)})
	}
	if v.TipoEmision != pkgsri.TipoEmisionNormal {
		v.Errors = append(v.Errors, ClaveError{Msg: fmt.Sprintf("sri: tipo de emisión %q no vigente (solo \"1\")", v.TipoEmision)})
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// randomNumericCode genera n dígitos decimales con crypto/rand.
func randomNumericCode(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// pad rellena con ceros a la izquierda hasta width; recorta por la izquierda
// si el valor excede el ancho.
func pad(s string, width int) string {
	s = onlyDigits(s)
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

// onlyDigits deja solo dígitos 0-9.
func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
