package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/pkg/export"
)

type pdfRenderer interface {
	RenderRecord(title string, fields []export.Field, body string) ([]byte, error)
}

type artifactStorage interface {
	Save(filename string, data []byte) (string, error)
}

// DocumentGenerator produces one artifact per appointment.
type DocumentGenerator interface {
	Generate(ctx context.Context, appt models.Appointment) (models.ArtifactHandle, error)
}

// PDFDocumentGenerator renders appointment records and request documents to PDF files in storage.
type PDFDocumentGenerator struct {
	renderer pdfRenderer
	storage  artifactStorage
	now      func() time.Time
}

// NewPDFDocumentGenerator constructs the generator.
func NewPDFDocumentGenerator(renderer pdfRenderer, storage artifactStorage) *PDFDocumentGenerator {
	return &PDFDocumentGenerator{renderer: renderer, storage: storage, now: time.Now}
}

// Generate renders the appointment record and stores it under artifacts/<date>/<id>.pdf.
func (g *PDFDocumentGenerator) Generate(ctx context.Context, appt models.Appointment) (models.ArtifactHandle, error) {
	if err := ctx.Err(); err != nil {
		return models.ArtifactHandle{}, err
	}
	fields := []export.Field{
		{Label: "Appointment", Value: appt.ID},
		{Label: "Date", Value: appt.Date},
		{Label: "Time", Value: appt.Time},
		{Label: "Type", Value: string(appt.Type)},
		{Label: "Person", Value: appt.PersonName},
		{Label: "Contact", Value: derefString(appt.ContactEmail)},
		{Label: "Admin", Value: appt.AdminID},
		{Label: "Source request", Value: derefString(appt.SourceRequestID)},
		{Label: "Archived at", Value: g.now().UTC().Format(time.RFC3339)},
	}
	data, err := g.renderer.RenderRecord("Appointment record", fields, derefString(appt.Notes))
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	filename := fmt.Sprintf("appointment-%s.pdf", appt.ID)
	stored, err := g.storage.Save(path.Join("artifacts", appt.Date, filename), data)
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	return models.ArtifactHandle{Path: stored, Filename: filename, SizeBytes: int64(len(data))}, nil
}

// StoreRequestDocument renders a completed request form, e.g. a signed responsibility waiver.
func (g *PDFDocumentGenerator) StoreRequestDocument(ctx context.Context, requestID string, payload models.IntentPayload) (models.ArtifactHandle, error) {
	if err := ctx.Err(); err != nil {
		return models.ArtifactHandle{}, err
	}
	fields := []export.Field{
		{Label: "Request", Value: requestID},
		{Label: "Type", Value: string(payload.RequestType)},
		{Label: "Person", Value: payload.PersonName},
		{Label: "Stored at", Value: g.now().UTC().Format(time.RFC3339)},
	}
	fields = append(fields, formFields(payload.Form)...)
	data, err := g.renderer.RenderRecord("Responsibility waiver", fields, "")
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	filename := fmt.Sprintf("request-%s.pdf", requestID)
	stored, err := g.storage.Save(path.Join("documents", filename), data)
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	return models.ArtifactHandle{Path: stored, Filename: filename, SizeBytes: int64(len(data))}, nil
}

// formFields flattens the top level of a JSON form into sorted fields.
func formFields(raw json.RawMessage) []export.Field {
	if len(raw) == 0 {
		return nil
	}
	var form map[string]interface{}
	if err := json.Unmarshal(raw, &form); err != nil {
		return nil
	}
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]export.Field, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, export.Field{Label: key, Value: fmt.Sprint(form[key])})
	}
	return fields
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
