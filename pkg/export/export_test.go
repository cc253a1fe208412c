package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRendersManifest(t *testing.T) {
	data, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"id", "date"},
		Rows:    []map[string]string{{"id": "appt-1", "date": "2024-06-10"}},
	})
	require.NoError(t, err)
	require.Equal(t, "id,date\nappt-1,2024-06-10\n", string(data))

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	data, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"person_name"},
		Rows:    []map[string]string{{"person_name": "=HYPERLINK(\"x\")"}, {"person_name": "-2"}, {"person_name": "Zoé"}},
	})
	require.NoError(t, err)
	require.Equal(t, "person_name\n\"'=HYPERLINK(\"\"x\"\")\"\n'-2\nZoé\n", string(data))
}

func TestPDFExporterRenderRecord(t *testing.T) {
	data, err := NewPDFExporter("").RenderRecord("Appointment", []Field{{Label: "Person", Value: "Zoé Durand"}}, "archived")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	_, err = NewPDFExporter("").RenderRecord("Empty", nil, "")
	require.Error(t, err)
}

func stringSource(s string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(s)), nil }
}

func TestWriteZip(t *testing.T) {
	buf := &bytes.Buffer{}
	err := WriteZip(buf, []BundleEntry{
		{Name: "manifest.csv", Modified: time.Now(), Open: stringSource("id\n")},
		{Name: "appt-1.pdf", Modified: time.Now(), Open: stringSource("%PDF")},
	})
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, reader.File, 2)
	require.Equal(t, "manifest.csv", reader.File[0].Name)
}

func TestWriteZipFailsOnSourceError(t *testing.T) {
	err := WriteZip(io.Discard, []BundleEntry{{Name: "a.pdf", Open: func() (io.ReadCloser, error) { return nil, errors.New("gone") }}})
	require.Error(t, err)

	err = WriteZip(io.Discard, []BundleEntry{{Name: "a", Open: stringSource("")}, {Name: "a", Open: stringSource("")}})
	require.Error(t, err)
}
