package sri

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	domsri "github.com/dguerrero-dev/facturacion-sri/internal/domain/sri"
	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// XMLBuilderService construye el XML del comprobante (sin firma XAdES).
// El orden de los elementos está fijado por el XSD del SRI y se reproduce
// exactamente; el receptor rechaza cualquier reordenamiento.
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// BuildFactura genera el []byte del documento <factura>.
func (s *XMLBuilderService) BuildFactura(ctx *BuildContext) ([]byte, error) {
	return s.build(ctx, policyFactura)
}

// BuildNotaCredito genera el []byte del documento <notaCredito>.
func (s *XMLBuilderService) BuildNotaCredito(ctx *BuildContext) ([]byte, error) {
	return s.build(ctx, policyNotaCredito)
}

func (s *XMLBuilderService) build(ctx *BuildContext, pol docPolicy) ([]byte, error) {
	if ctx == nil || ctx.Comprobante == nil || ctx.Company == nil {
		return nil, fmt.Errorf("sri: faltan comprobante o emisor en el contexto")
	}
	if err := domsri.ValidateComprobante(ctx.Comprobante); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	// Raíz con id="comprobante" (Reference URI de la firma) y versión de esquema.
	root := xml.StartElement{
		Name: xml.Name{Local: pol.rootTag},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: ComprobanteElementID},
			{Name: xml.Name{Local: "version"}, Value: pol.version},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	s.writeInfoTributaria(enc, ctx)
	if pol.creditNote {
		s.writeInfoNotaCredito(enc, ctx, pol)
	} else {
		s.writeInfoFactura(enc, ctx, pol)
	}
	s.writeDetalles(enc, ctx.Comprobante)
	s.writeInfoAdicional(enc, ctx.Comprobante)

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeInfoTributaria escribe el bloque común a todos los comprobantes.
func (s *XMLBuilderService) writeInfoTributaria(enc *xml.Encoder, ctx *BuildContext) {
	c := ctx.Comprobante
	co := ctx.Company

	openEl(enc, "infoTributaria")
	writeEl(enc, "ambiente", ctx.Ambiente)
	writeEl(enc, "tipoEmision", pkgsri.TipoEmisionNormal)
	writeEl(enc, "razonSocial", pkgsri.Clean(co.RazonSocial))
	if co.NombreComercial != "" {
		writeEl(enc, "nombreComercial", pkgsri.Clean(co.NombreComercial))
	}
	writeEl(enc, "ruc", co.RUC)
	writeEl(enc, "claveAcceso", c.ClaveAcceso)
	writeEl(enc, "codDoc", c.TipoDoc)
	writeEl(enc, "estab", c.Estab)
	writeEl(enc, "ptoEmi", c.PtoEmi)
	writeEl(enc, "secuencial", padSecuencial(c.Secuencial))
	writeEl(enc, "dirMatriz", pkgsri.Clean(co.DirMatriz))
	if co.Rimpe {
		writeEl(enc, "contribuyenteRimpe", "CONTRIBUYENTE RÉGIMEN RIMPE")
	}
	closeEl(enc, "infoTributaria")
}

// writeInfoFactura escribe el bloque de información de la factura en el orden
// del XSD: fecha, direcciones, comprador, totales, impuestos, propina,
// importe total, moneda y pagos.
func (s *XMLBuilderService) writeInfoFactura(enc *xml.Encoder, ctx *BuildContext, pol docPolicy) {
	c := ctx.Comprobante
	co := ctx.Company

	openEl(enc, pol.infoTag)
	writeEl(enc, "fechaEmision", c.FechaEmision.Format("02/01/2006"))
	if ctx.Establecimiento != nil && ctx.Establecimiento.Direccion != "" {
		writeEl(enc, "dirEstablecimiento", pkgsri.Clean(ctx.Establecimiento.Direccion))
	}
	if co.ContribuyenteEspecial != "" {
		writeEl(enc, "contribuyenteEspecial", co.ContribuyenteEspecial)
	}
	writeEl(enc, "obligadoContabilidad", siNo(co.ObligadoContabilidad))
	writeEl(enc, "tipoIdentificacionComprador", c.TipoIdentComprador)
	writeEl(enc, "razonSocialComprador", pkgsri.Clean(c.RazonSocialComprador))
	writeEl(enc, "identificacionComprador", c.IdentificacionComprador)
	if c.DireccionComprador != "" {
		writeEl(enc, "direccionComprador", pkgsri.Clean(c.DireccionComprador))
	}
	writeEl(enc, "totalSinImpuestos", pkgsri.Format2(c.TotalSinImpuestos))
	// Formato heredado: totalDescuento usa la convención "inteligente".
	writeEl(enc, "totalDescuento", pkgsri.FormatSmart(c.TotalDescuento))

	s.writeTotalConImpuestos(enc, c)

	writeEl(enc, "propina", pkgsri.Format2(c.Propina))
	writeEl(enc, "importeTotal", pkgsri.FormatSmart(c.ImporteTotal))
	writeEl(enc, "moneda", pkgsri.MonedaDolar)

	s.writePagos(enc, c)
	closeEl(enc, pol.infoTag)
}

// writeInfoNotaCredito escribe el bloque de la nota de crédito, que referencia
// al documento modificado y usa valorModificacion en lugar de pagos/propina.
func (s *XMLBuilderService) writeInfoNotaCredito(enc *xml.Encoder, ctx *BuildContext, pol docPolicy) {
	c := ctx.Comprobante
	co := ctx.Company

	openEl(enc, pol.infoTag)
	writeEl(enc, "fechaEmision", c.FechaEmision.Format("02/01/2006"))
	if ctx.Establecimiento != nil && ctx.Establecimiento.Direccion != "" {
		writeEl(enc, "dirEstablecimiento", pkgsri.Clean(ctx.Establecimiento.Direccion))
	}
	writeEl(enc, "tipoIdentificacionComprador", c.TipoIdentComprador)
	writeEl(enc, "razonSocialComprador", pkgsri.Clean(c.RazonSocialComprador))
	writeEl(enc, "identificacionComprador", c.IdentificacionComprador)
	if co.ContribuyenteEspecial != "" {
		writeEl(enc, "contribuyenteEspecial", co.ContribuyenteEspecial)
	}
	writeEl(enc, "obligadoContabilidad", siNo(co.ObligadoContabilidad))
	writeEl(enc, "codDocModificado", c.CodDocModificado)
	writeEl(enc, "numDocModificado", c.NumDocModificado)
	if c.FechaEmisionDocSustento != nil {
		writeEl(enc, "fechaEmisionDocSustento", c.FechaEmisionDocSustento.Format("02/01/2006"))
	}
	writeEl(enc, "totalSinImpuestos", pkgsri.Format2(c.TotalSinImpuestos))
	writeEl(enc, "valorModificacion", pkgsri.FormatSmart(c.ImporteTotal))
	writeEl(enc, "moneda", pkgsri.MonedaDolar)

	s.writeTotalConImpuestos(enc, c)

	motivo := c.MotivoModificacion
	if motivo == "" {
		motivo = "Devolución"
	}
	writeEl(enc, "motivo", pkgsri.Clean(motivo))
	closeEl(enc, pol.infoTag)
}

// writeTotalConImpuestos agrega los impuestos de todas las líneas por
// (código, códigoPorcentaje) preservando el orden de aparición. Si ninguna
// línea trae impuestos (respaldo defensivo), sintetiza las entradas desde los
// subtotales por tarifa del comprobante.
func (s *XMLBuilderService) writeTotalConImpuestos(enc *xml.Encoder, c *entity.Comprobante) {
	type bucket struct {
		codigo, codigoPorcentaje string
		base, valor              decimal.Decimal
	}
	var order []string
	buckets := map[string]*bucket{}

	for _, d := range c.Detalles {
		for _, imp := range d.Impuestos {
			key := imp.Codigo + "|" + imp.CodigoPorcentaje
			b, ok := buckets[key]
			if !ok {
				b = &bucket{codigo: imp.Codigo, codigoPorcentaje: imp.CodigoPorcentaje}
				buckets[key] = b
				order = append(order, key)
			}
			b.base = b.base.Add(imp.BaseImponible)
			b.valor = b.valor.Add(imp.Valor)
		}
	}
	if len(order) == 0 {
		for _, st := range c.SubtotalesTarifa {
			key := st.Codigo + "|" + st.CodigoPorcentaje
			buckets[key] = &bucket{
				codigo: st.Codigo, codigoPorcentaje: st.CodigoPorcentaje,
				base: st.BaseImponible, valor: st.Valor,
			}
			order = append(order, key)
		}
	}

	openEl(enc, "totalConImpuestos")
	for _, key := range order {
		b := buckets[key]
		openEl(enc, "totalImpuesto")
		writeEl(enc, "codigo", b.codigo)
		writeEl(enc, "codigoPorcentaje", b.codigoPorcentaje)
		writeEl(enc, "baseImponible", pkgsri.Format2(b.base))
		writeEl(enc, "valor", pkgsri.Format2(b.valor))
		closeEl(enc, "totalImpuesto")
	}
	closeEl(enc, "totalConImpuestos")
}

func (s *XMLBuilderService) writePagos(enc *xml.Encoder, c *entity.Comprobante) {
	pagos := c.Pagos
	if len(pagos) == 0 {
		// El XSD exige al menos un pago: contado sin sistema financiero.
		pagos = []entity.Pago{{FormaPago: pkgsri.PaymentSinSistemaFinanciero, Total: c.ImporteTotal}}
	}
	openEl(enc, "pagos")
	for _, p := range pagos {
		openEl(enc, "pago")
		writeEl(enc, "formaPago", p.FormaPago)
		writeEl(enc, "total", pkgsri.FormatSmart(p.Total))
		if p.Plazo > 0 {
			writeEl(enc, "plazo", fmt.Sprintf("%d", p.Plazo))
			ut := p.UnidadTiempo
			if ut == "" {
				ut = pkgsri.UnidadTiempoDias
			}
			writeEl(enc, "unidadTiempo", ut)
		}
		closeEl(enc, "pago")
	}
	closeEl(enc, "pagos")
}

func (s *XMLBuilderService) writeDetalles(enc *xml.Encoder, c *entity.Comprobante) {
	openEl(enc, "detalles")
	for _, d := range c.Detalles {
		openEl(enc, "detalle")
		if d.CodigoPrincipal != "" {
			writeEl(enc, "codigoPrincipal", pkgsri.Clean(d.CodigoPrincipal))
		}
		if d.CodigoAuxiliar != "" {
			writeEl(enc, "codigoAuxiliar", pkgsri.Clean(d.CodigoAuxiliar))
		}
		writeEl(enc, "descripcion", pkgsri.Clean(d.Descripcion))
		writeEl(enc, "cantidad", pkgsri.Format2(d.Cantidad))
		writeEl(enc, "precioUnitario", pkgsri.Format2(d.PrecioUnitario))
		writeEl(enc, "descuento", pkgsri.Format2(d.Descuento))
		writeEl(enc, "precioTotalSinImpuesto", pkgsri.Format2(d.PrecioTotalSinImpuesto))
		openEl(enc, "impuestos")
		for _, imp := range d.Impuestos {
			openEl(enc, "impuesto")
			writeEl(enc, "codigo", imp.Codigo)
			writeEl(enc, "codigoPorcentaje", imp.CodigoPorcentaje)
			writeEl(enc, "tarifa", imp.Tarifa.String())
			writeEl(enc, "baseImponible", pkgsri.Format2(imp.BaseImponible))
			writeEl(enc, "valor", pkgsri.Format2(imp.Valor))
			closeEl(enc, "impuesto")
		}
		closeEl(enc, "impuestos")
		closeEl(enc, "detalle")
	}
	closeEl(enc, "detalles")
}

func (s *XMLBuilderService) writeInfoAdicional(enc *xml.Encoder, c *entity.Comprobante) {
	if len(c.CamposAdicionales) == 0 {
		return
	}
	openEl(enc, "infoAdicional")
	for _, campo := range c.CamposAdicionales {
		nombre := pkgsri.CleanStrict(campo.Nombre)
		if nombre == "" {
			continue
		}
		_ = enc.EncodeToken(xml.StartElement{
			Name: xml.Name{Local: "campoAdicional"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "nombre"}, Value: nombre}},
		})
		_ = enc.EncodeToken(xml.CharData(pkgsri.Clean(campo.Valor)))
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "campoAdicional"}})
	}
	closeEl(enc, "infoAdicional")
}

// ── helpers ───────────────────────────────────────────────────────────────────

func openEl(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func closeEl(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

func writeEl(enc *xml.Encoder, local, value string) {
	openEl(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	closeEl(enc, local)
}

func siNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}

func padSecuencial(s string) string {
	for len(s) < 9 {
		s = "0" + s
	}
	return s
}
