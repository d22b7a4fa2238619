package extract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestText_Docx(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>Employment</w:t></w:r><w:r><w:t xml:space="preserve"> Agreement</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Clause</w:t><w:tab/><w:t>1</w:t></w:r></w:p>`)

	text, err := Text(MimeDOCX, data)
	require.NoError(t, err)
	assert.Equal(t, "Employment Agreement\nClause\t1", text)
}

func TestText_DocxMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Text(MimeDOCX, buf.Bytes())
	assert.Error(t, err)
}

func TestText_Plain(t *testing.T) {
	text, err := Text(MimeText, []byte("  hello contract \n"))
	require.NoError(t, err)
	assert.Equal(t, "hello contract", text)

	_, err = Text(MimeText, []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestText_Unsupported(t *testing.T) {
	_, err := Text("image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestText_InvalidPDF(t *testing.T) {
	_, err := Text(MimePDF, []byte("not a pdf"))
	assert.Error(t, err)
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, MimePDF, DetectType("x.bin", "application/pdf", nil))
	assert.Equal(t, MimeDOCX, DetectType("contract.DOCX", "application/octet-stream", nil))
	assert.Equal(t, MimeText, DetectType("notes.txt", "", nil))
	assert.Equal(t, MimeText, DetectType("", "", []byte("plain words")))
	assert.Equal(t, MimeText, DetectType("", "text/plain; charset=utf-8", nil))
}
