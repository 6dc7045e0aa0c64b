package sri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

func TestEsTerminal(t *testing.T) {
	assert.True(t, EsTerminal(entity.EstadoAutorizado))
	assert.True(t, EsTerminal(entity.EstadoRechazado))

	for _, estado := range []string{
		entity.EstadoPendiente, entity.EstadoEnviado, entity.EstadoDevuelto,
		entity.EstadoEnProceso, entity.EstadoError,
	} {
		assert.False(t, EsTerminal(estado), estado)
	}
}

func TestEsReintentable(t *testing.T) {
	for _, estado := range []string{
		entity.EstadoPendiente, entity.EstadoDevuelto,
		entity.EstadoError, entity.EstadoEnProceso,
	} {
		assert.True(t, EsReintentable(estado), estado)
	}
	assert.False(t, EsReintentable(entity.EstadoEnviado))
	assert.False(t, EsReintentable(entity.EstadoAutorizado))
	assert.False(t, EsReintentable(entity.EstadoRechazado))
}

func TestCanSubmit(t *testing.T) {
	t.Run("autorizado es no-op", func(t *testing.T) {
		skip, err := CanSubmit(&entity.Comprobante{ID: "c1", Estado: entity.EstadoAutorizado})
		require.NoError(t, err)
		assert.True(t, skip)
	})

	t.Run("enviado en curso rechaza reenvío", func(t *testing.T) {
		_, err := CanSubmit(&entity.Comprobante{ID: "c1", Estado: entity.EstadoEnviado})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "envío en curso")
	})

	t.Run("rechazado exige clave nueva", func(t *testing.T) {
		_, err := CanSubmit(&entity.Comprobante{ID: "c1", Estado: entity.EstadoRechazado})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clave nueva")
	})

	t.Run("estados reintentables pasan", func(t *testing.T) {
		for _, estado := range []string{
			entity.EstadoPendiente, entity.EstadoDevuelto,
			entity.EstadoError, entity.EstadoEnProceso,
		} {
			skip, err := CanSubmit(&entity.Comprobante{ID: "c1", Estado: estado})
			require.NoError(t, err, estado)
			assert.False(t, skip, estado)
		}
	})
}
