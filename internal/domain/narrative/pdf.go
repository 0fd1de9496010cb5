package narrative

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Document is everything the renderer needs to lay out one clinical history.
type Document struct {
	ProtocolName string
	ProtocolCode string
	VisitName    string
	VisitDate    *time.Time
	Body         string
	// SignatureB64 optionally embeds a base64-encoded PNG signature.
	SignatureB64 string
}

// Renderer writes a clinical history document to w.
type Renderer interface {
	Render(w io.Writer, doc Document) error
}

type pdfRenderer struct{}

func NewPDFRenderer() Renderer {
	return &pdfRenderer{}
}

func (r *pdfRenderer) Render(w io.Writer, doc Document) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("HISTORIA CLÍNICA"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	date := "No especificada"
	if doc.VisitDate != nil {
		date = doc.VisitDate.Format("02/01/2006")
	}
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Protocolo: %s (%s)", doc.ProtocolName, doc.ProtocolCode)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, tr("Visita: "+doc.VisitName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, tr("Fecha: "+date), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(doc.Body), "", "J", false)

	if doc.SignatureB64 != "" {
		if err := r.drawSignature(pdf, doc.SignatureB64); err != nil {
			return err
		}
	}

	// Void the rest of the page so nothing can be added by hand.
	pdf.Ln(6)
	x, y := pdf.GetX(), pdf.GetY()
	pageW, pageH := pdf.GetPageSize()
	_, _, rightM, bottomM := pdf.GetMargins()
	pdf.SetDrawColor(120, 120, 120)
	pdf.Line(x, y, pageW-rightM, pageH-bottomM)

	return pdf.Output(w)
}

func (r *pdfRenderer) drawSignature(pdf *gofpdf.Fpdf, b64 string) error {
	// Accept both bare base64 and data-URL payloads.
	if idx := strings.Index(b64, ","); idx >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode signature image: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("signature", opts, bytes.NewReader(raw))
	if pdf.Err() {
		return fmt.Errorf("embed signature image: %w", pdf.Error())
	}
	pdf.Ln(10)
	pdf.ImageOptions("signature", pdf.GetX(), pdf.GetY(), 50, 0, true, opts, 0, "")
	return nil
}
