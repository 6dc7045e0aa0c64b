package sri

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

const claveDePrueba = "2310202501179214673900110010010000000011234567813"

// stubAuthorityClient devuelve secuencias programadas de resultados y cuenta
// las llamadas a cada operación.
type stubAuthorityClient struct {
	recepcion      *ReceptionResult
	autorizaciones []*AuthorizationResult

	recepcionCalls    int
	autorizacionCalls int
}

func (s *stubAuthorityClient) ValidarComprobante(_ context.Context, _ []byte) (*ReceptionResult, error) {
	s.recepcionCalls++
	return s.recepcion, nil
}

func (s *stubAuthorityClient) AutorizacionComprobante(_ context.Context, clave string) (*AuthorizationResult, error) {
	s.autorizacionCalls++
	idx := s.autorizacionCalls - 1
	if idx >= len(s.autorizaciones) {
		idx = len(s.autorizaciones) - 1
	}
	r := *s.autorizaciones[idx]
	r.ClaveAcceso = clave
	return &r, nil
}

func enProceso() *AuthorizationResult {
	return &AuthorizationResult{EnProceso: true, Estado: EstadoEnProceso}
}

func TestSubmitAndAwaitAuthorizedAfterThreePolls(t *testing.T) {
	stub := &stubAuthorityClient{
		recepcion: &ReceptionResult{Success: true, Estado: EstadoRecibida},
		autorizaciones: []*AuthorizationResult{
			enProceso(),
			enProceso(),
			{Success: true, Estado: EstadoAutorizado, NumeroAutorizacion: "0810202501179214673900120250001"},
		},
	}

	result, err := SubmitAndAwait(context.Background(), stub, []byte("<factura/>"), claveDePrueba, 10, time.Millisecond)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, EstadoAutorizado, result.Estado)
	assert.Equal(t, 1, stub.recepcionCalls)
	assert.Equal(t, 3, stub.autorizacionCalls, "debe resolverse exactamente en el tercer sondeo")
}

func TestSubmitAndAwaitBudgetExhaustedStaysInProcess(t *testing.T) {
	stub := &stubAuthorityClient{
		recepcion:      &ReceptionResult{Success: true, Estado: EstadoRecibida},
		autorizaciones: []*AuthorizationResult{enProceso()},
	}

	result, err := SubmitAndAwait(context.Background(), stub, []byte("<factura/>"), claveDePrueba, 5, time.Millisecond)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.EnProceso, "agotar el presupuesto no es un estado terminal")
	assert.Equal(t, claveDePrueba, result.ClaveAcceso, "la clave debe conservarse para reintentos posteriores")
	assert.Equal(t, 5, stub.autorizacionCalls, "nunca debe exceder maxAttempts sondeos")
}

func TestSubmitAndAwaitReturnedSkipsPolling(t *testing.T) {
	stub := &stubAuthorityClient{
		recepcion: &ReceptionResult{
			Success: false,
			Estado:  EstadoDevuelta,
			Mensaje: "35: ARCHIVO NO CUMPLE ESTRUCTURA XML",
		},
	}

	result, err := SubmitAndAwait(context.Background(), stub, []byte("<factura/>"), claveDePrueba, 10, time.Millisecond)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, EstadoDevuelta, result.Estado)
	assert.Contains(t, result.Mensaje, "ARCHIVO NO CUMPLE")
	assert.Equal(t, 0, stub.autorizacionCalls, "un comprobante devuelto no se sondea")
}

func TestSubmitAndAwaitCancellationStopsPolling(t *testing.T) {
	stub := &stubAuthorityClient{
		recepcion:      &ReceptionResult{Success: true, Estado: EstadoRecibida},
		autorizaciones: []*AuthorizationResult{enProceso()},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := SubmitAndAwait(ctx, stub, []byte("<factura/>"), claveDePrueba, 10, time.Hour)
	require.NoError(t, err)

	assert.True(t, result.EnProceso)
	assert.Equal(t, 1, stub.autorizacionCalls, "el primer sondeo es inmediato; la cancelación corta los siguientes")
}

// ── Cliente SOAP contra servidor de prueba ────────────────────────────────────

func soapTestServer(t *testing.T, handler http.HandlerFunc) (*SOAPAuthorityClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewSOAPAuthorityClient(SOAPClientConfig{
		Ambiente:        pkgsri.AmbientePruebas,
		RecepcionURL:    srv.URL,
		AutorizacionURL: srv.URL,
	})
	require.NoError(t, err)
	return client, srv
}

func TestValidarComprobanteRecibida(t *testing.T) {
	var gotBody []byte
	client, _ := soapTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:validarComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.recepcion">
<RespuestaRecepcionComprobante><estado>RECIBIDA</estado><comprobantes/></RespuestaRecepcionComprobante>
</ns2:validarComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	signedXML := []byte(`<factura id="comprobante"/>`)
	result, err := client.ValidarComprobante(context.Background(), signedXML)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, EstadoRecibida, result.Estado)

	// El XML firmado viaja en Base64 dentro del envelope.
	b64 := base64.StdEncoding.EncodeToString(signedXML)
	assert.Contains(t, string(gotBody), b64)
}

func TestValidarComprobanteDevueltaAgregaMensajes(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:validarComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.recepcion">
<RespuestaRecepcionComprobante><estado>DEVUELTA</estado>
<comprobantes><comprobante><claveAcceso>`+claveDePrueba+`</claveAcceso>
<mensajes>
<mensaje><identificador>45</identificador><mensaje>ERROR SECUENCIAL REGISTRADO</mensaje><informacionAdicional>secuencial repetido</informacionAdicional><tipo>ERROR</tipo></mensaje>
<mensaje><identificador>39</identificador><mensaje>FIRMA INVALIDA</mensaje><tipo>ERROR</tipo></mensaje>
</mensajes>
</comprobante></comprobantes></RespuestaRecepcionComprobante>
</ns2:validarComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	result, err := client.ValidarComprobante(context.Background(), []byte("<factura/>"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, EstadoDevuelta, result.Estado)
	assert.Contains(t, result.Mensaje, "45: ERROR SECUENCIAL REGISTRADO [secuencial repetido]")
	assert.Contains(t, result.Mensaje, "39: FIRMA INVALIDA")
}

func TestAutorizacionComprobanteAutorizado(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante>
<claveAccesoConsultada>`+claveDePrueba+`</claveAccesoConsultada>
<numeroComprobantes>1</numeroComprobantes>
<autorizaciones><autorizacion>
<estado>AUTORIZADO</estado>
<numeroAutorizacion>0810202501179214673900120250001</numeroAutorizacion>
<fechaAutorizacion>2025-10-23T14:05:11-05:00</fechaAutorizacion>
<ambiente>PRUEBAS</ambiente>
<comprobante><![CDATA[<factura id="comprobante" version="1.1.0"></factura>]]></comprobante>
<mensajes/>
</autorizacion></autorizaciones>
</RespuestaAutorizacionComprobante>
</ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	result, err := client.AutorizacionComprobante(context.Background(), claveDePrueba)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, EstadoAutorizado, result.Estado)
	assert.Equal(t, "0810202501179214673900120250001", result.NumeroAutorizacion)
	require.NotNil(t, result.FechaAutorizacion)
	assert.Equal(t, 2025, result.FechaAutorizacion.Year())
	assert.Contains(t, string(result.ComprobanteXML), "<factura")
}

func TestAutorizacionComprobanteUsaUltimaDelHistorial(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante>
<claveAccesoConsultada>`+claveDePrueba+`</claveAccesoConsultada>
<numeroComprobantes>2</numeroComprobantes>
<autorizaciones>
<autorizacion><estado>NO AUTORIZADO</estado><mensajes/></autorizacion>
<autorizacion><estado>AUTORIZADO</estado><numeroAutorizacion>777</numeroAutorizacion><mensajes/></autorizacion>
</autorizaciones>
</RespuestaAutorizacionComprobante>
</ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	result, err := client.AutorizacionComprobante(context.Background(), claveDePrueba)
	require.NoError(t, err)

	assert.True(t, result.Success, "con historial se usa la última autorización")
	assert.Equal(t, "777", result.NumeroAutorizacion)
}

func TestAutorizacionComprobanteSinRegistrosEsEnProceso(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante>
<claveAccesoConsultada>`+claveDePrueba+`</claveAccesoConsultada>
<numeroComprobantes>0</numeroComprobantes>
<autorizaciones/>
</RespuestaAutorizacionComprobante>
</ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	result, err := client.AutorizacionComprobante(context.Background(), claveDePrueba)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.EnProceso)
	assert.Equal(t, claveDePrueba, result.ClaveAcceso)
}

func TestAutorizacionMensajeClaveEnProcesamiento(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante>
<claveAccesoConsultada>`+claveDePrueba+`</claveAccesoConsultada>
<numeroComprobantes>1</numeroComprobantes>
<autorizaciones><autorizacion>
<estado>NO AUTORIZADO</estado>
<mensajes><mensaje><identificador>70</identificador><mensaje>Clave de Acceso en procesamiento</mensaje><tipo>INFORMATIVO</tipo></mensaje></mensajes>
</autorizacion></autorizaciones>
</RespuestaAutorizacionComprobante>
</ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`)
	})

	result, err := client.AutorizacionComprobante(context.Background(), claveDePrueba)
	require.NoError(t, err)

	assert.True(t, result.EnProceso, "el mensaje de clave en procesamiento no es un rechazo")
	assert.Equal(t, EstadoEnProceso, result.Estado)
	assert.False(t, result.Success)
}

func TestSOAPFaultEnRecepcionNoAborta(t *testing.T) {
	client, _ := soapTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><soap:Fault><faultcode>soap:Server</faultcode><faultstring>Error interno</faultstring></soap:Fault></soap:Body></soap:Envelope>`)
	})

	result, err := client.ValidarComprobante(context.Background(), []byte("<factura/>"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Mensaje, "SOAP Fault")
	assert.Contains(t, result.Mensaje, "Error interno")
}

func TestNewSOAPAuthorityClientRechazaSkipVerifyEnProduccion(t *testing.T) {
	_, err := NewSOAPAuthorityClient(SOAPClientConfig{
		Ambiente:           pkgsri.AmbienteProduccion,
		InsecureSkipVerify: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producción")
}

func TestNewSOAPAuthorityClientEndpointsPorAmbiente(t *testing.T) {
	pruebas, err := NewSOAPAuthorityClient(SOAPClientConfig{Ambiente: pkgsri.AmbientePruebas})
	require.NoError(t, err)
	assert.Contains(t, pruebas.recepcionURL, "celcer.sri.gob.ec")

	produccion, err := NewSOAPAuthorityClient(SOAPClientConfig{Ambiente: pkgsri.AmbienteProduccion})
	require.NoError(t, err)
	assert.Contains(t, produccion.recepcionURL, "cel.sri.gob.ec")
	assert.NotContains(t, produccion.recepcionURL, "celcer")

	_, err = NewSOAPAuthorityClient(SOAPClientConfig{Ambiente: "9"})
	assert.Error(t, err)
}

func TestEnvelopeMarshalEstructura(t *testing.T) {
	env := soapEnvelope{
		XmlnsS:  soapNS,
		XmlnsEC: nsRecepcion,
		Body:    soapBody{Content: &validarComprobanteBody{XML: "QUJD"}},
	}
	out, err := xml.Marshal(env)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<soapenv:Envelope"))
	assert.Contains(t, s, `xmlns:ec="http://ec.gob.sri.ws.recepcion"`)
	assert.Contains(t, s, "<ec:validarComprobante><xml>QUJD</xml></ec:validarComprobante>")
}
