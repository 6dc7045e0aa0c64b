package sri

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// ── Constantes de los web services SRI ────────────────────────────────────────

const (
	recepcionURLPruebas       = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	recepcionURLProduccion    = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	autorizacionURLPruebas    = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
	autorizacionURLProduccion = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"

	soapNS         = "http://schemas.xmlsoap.org/soap/envelope/"
	nsRecepcion    = "http://ec.gob.sri.ws.recepcion"
	nsAutorizacion = "http://ec.gob.sri.ws.autorizacion"

	// Estados devueltos por recepción.
	EstadoRecibida = "RECIBIDA"
	EstadoDevuelta = "DEVUELTA"

	// Estados devueltos por autorización.
	EstadoAutorizado   = "AUTORIZADO"
	EstadoNoAutorizado = "NO AUTORIZADO"
	EstadoRechazado    = "RECHAZADO"
	EstadoEnProceso    = "EN PROCESO"

	// El SRI responde este mensaje cuando la clave todavía está en cola;
	// se trata como "en proceso", no como rechazo.
	mensajeClaveEnProcesamiento = "clave de acceso en procesamiento"
)

// ── Resultados ────────────────────────────────────────────────────────────────

// ReceptionResult resultado de la fase de recepción (validarComprobante).
type ReceptionResult struct {
	Success bool   // true si el estado fue RECIBIDA
	Estado  string // RECIBIDA o DEVUELTA
	Mensaje string // mensajes de error agregados (identificador: texto [info])
}

// AuthorizationResult resultado de la fase de autorización.
type AuthorizationResult struct {
	Success            bool   // true solo si Estado == AUTORIZADO
	EnProceso          bool   // true si el SRI aún no decide; reintentar después
	Estado             string // AUTORIZADO, NO AUTORIZADO, RECHAZADO o EN PROCESO
	ClaveAcceso        string
	NumeroAutorizacion string
	FechaAutorizacion  *time.Time
	ComprobanteXML     []byte // XML estampado por el SRI (solo en AUTORIZADO)
	Mensaje            string
}

// AuthorityClient define el puerto de salida hacia los web services del SRI.
// La implementación concreta usa SOAP; para tests se puede inyectar un stub.
type AuthorityClient interface {
	// ValidarComprobante envía el XML firmado al WS de recepción.
	ValidarComprobante(ctx context.Context, signedXML []byte) (*ReceptionResult, error)
	// AutorizacionComprobante consulta el estado de autorización de una clave.
	AutorizacionComprobante(ctx context.Context, claveAcceso string) (*AuthorizationResult, error)
}

// ── Implementación SOAP ───────────────────────────────────────────────────────

// SOAPClientConfig parametriza el cliente SOAP hacia el SRI.
type SOAPClientConfig struct {
	Ambiente        string        // pkgsri.AmbientePruebas o pkgsri.AmbienteProduccion
	RecepcionURL    string        // vacío: se deriva del ambiente
	AutorizacionURL string        // vacío: se deriva del ambiente
	Timeout         time.Duration // por llamada; 0 usa 30 s
	// InsecureSkipVerify desactiva la verificación TLS del endpoint. Solo se
	// admite en ambiente de pruebas y debe habilitarse explícitamente.
	InsecureSkipVerify bool
}

// SOAPAuthorityClient implementa AuthorityClient contra los WS SOAP del SRI.
type SOAPAuthorityClient struct {
	httpClient      *http.Client
	recepcionURL    string
	autorizacionURL string
}

// NewSOAPAuthorityClient construye el cliente según el ambiente. Rechaza la
// combinación InsecureSkipVerify + producción.
func NewSOAPAuthorityClient(cfg SOAPClientConfig) (*SOAPAuthorityClient, error) {
	recepcion, autorizacion := cfg.RecepcionURL, cfg.AutorizacionURL
	switch cfg.Ambiente {
	case pkgsri.AmbientePruebas:
		if recepcion == "" {
			recepcion = recepcionURLPruebas
		}
		if autorizacion == "" {
			autorizacion = autorizacionURLPruebas
		}
	case pkgsri.AmbienteProduccion:
		if cfg.InsecureSkipVerify {
			return nil, fmt.Errorf("sri: InsecureSkipVerify no se admite en ambiente de producción")
		}
		if recepcion == "" {
			recepcion = recepcionURLProduccion
		}
		if autorizacion == "" {
			autorizacion = autorizacionURLProduccion
		}
	default:
		return nil, fmt.Errorf("sri: ambiente desconocido %q (usar %q o %q)",
			cfg.Ambiente, pkgsri.AmbientePruebas, pkgsri.AmbienteProduccion)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SOAPAuthorityClient{
		httpClient:      &http.Client{Timeout: timeout, Transport: transport},
		recepcionURL:    recepcion,
		autorizacionURL: autorizacion,
	}, nil
}

// ── Estructuras SOAP de petición ──────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	XmlnsS  string     `xml:"xmlns:soapenv,attr"`
	XmlnsEC string     `xml:"xmlns:ec,attr"`
	Header  soapHeader `xml:"soapenv:Header"`
	Body    soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// validarComprobanteBody cuerpo de la operación de recepción. El XML firmado
// viaja codificado en Base64.
type validarComprobanteBody struct {
	XMLName xml.Name `xml:"ec:validarComprobante"`
	XML     string   `xml:"xml"`
}

// autorizacionComprobanteBody cuerpo de la operación de autorización.
type autorizacionComprobanteBody struct {
	XMLName     xml.Name `xml:"ec:autorizacionComprobante"`
	ClaveAcceso string   `xml:"claveAccesoComprobante"`
}

// ── Estructuras SOAP de respuesta ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	ValidarResponse      *validarComprobanteResponse      `xml:"validarComprobanteResponse"`
	AutorizacionResponse *autorizacionComprobanteResponse `xml:"autorizacionComprobanteResponse"`
	Fault                *soapFault                       `xml:"Fault"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

type validarComprobanteResponse struct {
	Respuesta respuestaRecepcion `xml:"RespuestaRecepcionComprobante"`
}

type respuestaRecepcion struct {
	Estado       string                 `xml:"estado"`
	Comprobantes []comprobanteRecepcion `xml:"comprobantes>comprobante"`
}

type comprobanteRecepcion struct {
	ClaveAcceso string       `xml:"claveAcceso"`
	Mensajes    []mensajeSRI `xml:"mensajes>mensaje"`
}

type mensajeSRI struct {
	Identificador        string `xml:"identificador"`
	Mensaje              string `xml:"mensaje"`
	InformacionAdicional string `xml:"informacionAdicional"`
	Tipo                 string `xml:"tipo"`
}

type autorizacionComprobanteResponse struct {
	Respuesta respuestaAutorizacion `xml:"RespuestaAutorizacionComprobante"`
}

type respuestaAutorizacion struct {
	ClaveAccesoConsultada string            `xml:"claveAccesoConsultada"`
	NumeroComprobantes    string            `xml:"numeroComprobantes"`
	Autorizaciones        []autorizacionSRI `xml:"autorizaciones>autorizacion"`
}

type autorizacionSRI struct {
	Estado             string       `xml:"estado"`
	NumeroAutorizacion string       `xml:"numeroAutorizacion"`
	FechaAutorizacion  string       `xml:"fechaAutorizacion"`
	Ambiente           string       `xml:"ambiente"`
	Comprobante        string       `xml:"comprobante"` // XML estampado (CDATA)
	Mensajes           []mensajeSRI `xml:"mensajes>mensaje"`
}

// ── ValidarComprobante ────────────────────────────────────────────────────────

// ValidarComprobante envía el XML firmado al WS de recepción y devuelve el
// estado RECIBIDA o DEVUELTA con los mensajes de error agregados.
func (c *SOAPAuthorityClient) ValidarComprobante(ctx context.Context, signedXML []byte) (*ReceptionResult, error) {
	if len(signedXML) == 0 {
		return nil, fmt.Errorf("sri: XML firmado vacío")
	}
	body := &validarComprobanteBody{
		XML: base64.StdEncoding.EncodeToString(signedXML),
	}
	raw, err := c.call(ctx, c.recepcionURL, nsRecepcion, body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return &ReceptionResult{
			Success: false,
			Estado:  EstadoDevuelta,
			Mensaje: "no se pudo parsear respuesta SOAP: " + string(raw),
		}, nil
	}
	if envResp.Body.Fault != nil {
		return &ReceptionResult{
			Success: false,
			Estado:  EstadoDevuelta,
			Mensaje: fmt.Sprintf("SOAP Fault [%s]: %s", envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString),
		}, nil
	}
	if envResp.Body.ValidarResponse == nil {
		return &ReceptionResult{
			Success: false,
			Estado:  EstadoDevuelta,
			Mensaje: "respuesta SOAP vacía o inesperada: " + string(raw),
		}, nil
	}

	respuesta := envResp.Body.ValidarResponse.Respuesta
	result := &ReceptionResult{
		Estado:  respuesta.Estado,
		Success: respuesta.Estado == EstadoRecibida,
	}
	if !result.Success {
		var msgs []string
		for _, comp := range respuesta.Comprobantes {
			for _, m := range comp.Mensajes {
				msgs = append(msgs, formatMensaje(m))
			}
		}
		result.Mensaje = strings.Join(msgs, "; ")
	}
	return result, nil
}

// ── AutorizacionComprobante ───────────────────────────────────────────────────

// AutorizacionComprobante consulta el WS de autorización por clave de acceso.
// Si el SRI devuelve un historial de autorizaciones se usa la última.
func (c *SOAPAuthorityClient) AutorizacionComprobante(ctx context.Context, claveAcceso string) (*AuthorizationResult, error) {
	if len(claveAcceso) != 49 {
		return nil, fmt.Errorf("sri: clave de acceso inválida (%d dígitos)", len(claveAcceso))
	}
	body := &autorizacionComprobanteBody{ClaveAcceso: claveAcceso}
	raw, err := c.call(ctx, c.autorizacionURL, nsAutorizacion, body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return nil, fmt.Errorf("sri: parsear respuesta de autorización: %s", string(raw))
	}
	if envResp.Body.Fault != nil {
		return nil, fmt.Errorf("sri: SOAP Fault [%s]: %s",
			envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString)
	}
	if envResp.Body.AutorizacionResponse == nil {
		return nil, fmt.Errorf("sri: respuesta de autorización vacía o inesperada: %s", string(raw))
	}

	respuesta := envResp.Body.AutorizacionResponse.Respuesta
	if len(respuesta.Autorizaciones) == 0 {
		// Sin registros: el comprobante sigue en cola de procesamiento.
		return &AuthorizationResult{
			EnProceso:   true,
			Estado:      EstadoEnProceso,
			ClaveAcceso: claveAcceso,
		}, nil
	}

	aut := respuesta.Autorizaciones[len(respuesta.Autorizaciones)-1]
	result := &AuthorizationResult{
		Estado:             aut.Estado,
		ClaveAcceso:        claveAcceso,
		NumeroAutorizacion: aut.NumeroAutorizacion,
	}
	var msgs []string
	for _, m := range aut.Mensajes {
		msgs = append(msgs, formatMensaje(m))
		if strings.Contains(strings.ToLower(m.Mensaje), mensajeClaveEnProcesamiento) {
			result.EnProceso = true
		}
	}
	result.Mensaje = strings.Join(msgs, "; ")

	switch aut.Estado {
	case EstadoAutorizado:
		result.Success = true
		result.ComprobanteXML = []byte(aut.Comprobante)
		if ts, err := parseFechaAutorizacion(aut.FechaAutorizacion); err == nil {
			result.FechaAutorizacion = &ts
		}
	case EstadoEnProceso:
		result.EnProceso = true
	}
	if result.EnProceso {
		result.Estado = EstadoEnProceso
		result.Success = false
	}
	return result, nil
}

// ── Poll loop ─────────────────────────────────────────────────────────────────

// SubmitAndAwait ejecuta el intercambio completo: recepción y luego sondeo de
// autorización hasta maxAttempts intentos con delay entre ellos (sin espera
// antes del primer sondeo). Si la recepción falla devuelve el resultado de
// recepción como rechazo; si el presupuesto se agota con el comprobante aún en
// proceso devuelve un resultado no terminal con la clave para reintentar luego.
func SubmitAndAwait(ctx context.Context, client AuthorityClient, signedXML []byte, claveAcceso string, maxAttempts int, delay time.Duration) (*AuthorizationResult, error) {
	recepcion, err := client.ValidarComprobante(ctx, signedXML)
	if err != nil {
		return nil, fmt.Errorf("recepción: %w", err)
	}
	if !recepcion.Success {
		return &AuthorizationResult{
			Success:     false,
			Estado:      recepcion.Estado,
			ClaveAcceso: claveAcceso,
			Mensaje:     recepcion.Mensaje,
		}, nil
	}

	return AwaitAuthorization(ctx, client, claveAcceso, maxAttempts, delay)
}

// AwaitAuthorization sondea la autorización de una clave de acceso cuya
// recepción ya fue aceptada por el SRI. Reenviar la recepción de una clave
// registrada sería devuelto como duplicado, así que la reanudación de un
// comprobante EN_PROCESO entra por aquí directamente.
func AwaitAuthorization(ctx context.Context, client AuthorityClient, claveAcceso string, maxAttempts int, delay time.Duration) (*AuthorizationResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			// El primer sondeo se hace inmediatamente tras la recepción.
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				// El comprobante ya fue recibido; no se puede retractar.
				return &AuthorizationResult{
					EnProceso:   true,
					Estado:      EstadoEnProceso,
					ClaveAcceso: claveAcceso,
					Mensaje:     "sondeo cancelado: " + ctx.Err().Error(),
				}, nil
			case <-timer.C:
			}
		}

		result, err := client.AutorizacionComprobante(ctx, claveAcceso)
		if err != nil {
			return nil, fmt.Errorf("autorización: %w", err)
		}
		if !result.EnProceso {
			return result, nil
		}
	}

	return &AuthorizationResult{
		EnProceso:   true,
		Estado:      EstadoEnProceso,
		ClaveAcceso: claveAcceso,
		Mensaje:     fmt.Sprintf("sin respuesta definitiva tras %d intentos", maxAttempts),
	}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (c *SOAPAuthorityClient) call(ctx context.Context, url, ns string, content interface{}) ([]byte, error) {
	envelope := soapEnvelope{
		XmlnsS:  soapNS,
		XmlnsEC: ns,
		Body:    soapBody{Content: content},
	}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("sri: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sri: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sri: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("sri: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // max 4 MB
	if err != nil {
		return nil, fmt.Errorf("sri: leer respuesta: %w", err)
	}
	return raw, nil
}

func formatMensaje(m mensajeSRI) string {
	s := m.Mensaje
	if m.Identificador != "" {
		s = m.Identificador + ": " + s
	}
	if m.InformacionAdicional != "" {
		s += " [" + m.InformacionAdicional + "]"
	}
	return s
}

// parseFechaAutorizacion acepta los formatos de fecha que el SRI ha usado en
// sus respuestas.
func parseFechaAutorizacion(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-07:00",
		"02/01/2006 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
