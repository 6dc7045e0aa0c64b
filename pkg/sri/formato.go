// Formateo numérico y saneamiento de texto para el XML de comprobantes SRI.
//
// El esquema arrastra dos convenciones de formato heredadas del sistema emisor:
// la mayoría de los campos monetarios usan siempre 2 decimales (Format2), pero
// un subconjunto (totalDescuento, total de cada pago, importeTotal) usa el
// formato "inteligente": enteros sin decimales, no enteros con 2 decimales.
// Es un requisito de compatibilidad con el receptor, no una elección de estilo.

package sri

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// smartEpsilon tolerancia para decidir si un valor es entero en FormatSmart.
var smartEpsilon = decimal.New(1, -5) // 1e-5

// MaxTextLength longitud máxima de los campos descriptivos del XML.
const MaxTextLength = 300

// Format2 formatea con exactamente 2 decimales (redondeo half-up de decimal).
func Format2(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// FormatSmart aplica la convención heredada: valores enteros (con tolerancia
// 1e-5) se emiten sin decimales; el resto con exactamente 2 decimales.
func FormatSmart(d decimal.Decimal) string {
	rounded := d.Round(2)
	nearest := d.Round(0)
	if d.Sub(nearest).Abs().LessThan(smartEpsilon) {
		return nearest.String()
	}
	return rounded.StringFixed(2)
}

// Clean sanea texto para contenido de elementos: conserva letras, dígitos,
// espacios y ". , - _ @", recorta espacios y trunca a MaxTextLength.
func Clean(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '-' || r == '_' || r == '@':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if r := []rune(out); len(r) > MaxTextLength {
		out = strings.TrimSpace(string(r[:MaxTextLength]))
	}
	return out
}

// foldAccents descompone y elimina marcas diacríticas (á→a, ñ→n).
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CleanStrict sanea nombres de campos (atributos XML): aplica Clean, pliega
// acentos a ASCII y elimina todo espacio en blanco.
func CleanStrict(s string) string {
	folded, _, err := transform.String(foldAccents, Clean(s))
	if err != nil {
		folded = Clean(s)
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}
