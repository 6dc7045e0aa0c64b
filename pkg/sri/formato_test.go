package sri_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// ──────────────────────────────────────────────────────────────────────────────
// FormatSmart es una convención heredada del sistema emisor: el receptor valida
// contra estos literales exactos, así que estos vectores fijan el comportamiento
// (incluida su asimetría con Format2) en lugar de normalizarlo.
// ──────────────────────────────────────────────────────────────────────────────

func TestFormatSmart_Vectores(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{10.00, "10"},
		{10.005, "10.01"}, // redondeo half-up a 2 decimales
		{0, "0"},
		{0.5, "0.50"},
		{100.10, "100.10"},
		{7.999999, "8"}, // dentro de la tolerancia 1e-5
		{7.99, "7.99"},  // fuera de la tolerancia
		{-3.00, "-3"},
		{-3.25, "-3.25"},
	}
	for _, c := range cases {
		got := sri.FormatSmart(decimal.NewFromFloat(c.in))
		assert.Equal(t, c.want, got, "FormatSmart(%v)", c.in)
	}
}

func TestFormat2_SiempreDosDecimales(t *testing.T) {
	assert.Equal(t, "10.00", sri.Format2(decimal.NewFromInt(10)))
	assert.Equal(t, "0.00", sri.Format2(decimal.Zero))
	assert.Equal(t, "1.46", sri.Format2(decimal.NewFromFloat(1.455)))
}

// FormatSmart y Format2 divergen en enteros: la diferencia es intencional y
// el XML la aplica campo por campo.
func TestFormatSmart_DivergeDeFormat2EnEnteros(t *testing.T) {
	d := decimal.NewFromInt(25)
	assert.Equal(t, "25", sri.FormatSmart(d))
	assert.Equal(t, "25.00", sri.Format2(d))
}

func TestClean_CaracteresPermitidos(t *testing.T) {
	assert.Equal(t, "Café tostado 1kg - lote_2, ref. a@b",
		sri.Clean("  Café tostado 1kg - lote_2, ref. a@b  "))
	assert.Equal(t, "sin símbolos", sri.Clean("sin <>&\"'símbolos%$#"))
}

func TestClean_TruncaA300(t *testing.T) {
	long := strings.Repeat("a", 400)
	assert.Len(t, sri.Clean(long), 300)
}

func TestCleanStrict_PliegaAcentosYQuitaEspacios(t *testing.T) {
	assert.Equal(t, "DireccionSucursal", sri.CleanStrict("Dirección Sucursal"))
	assert.Equal(t, "numeroguia", sri.CleanStrict("número guía"))
}
