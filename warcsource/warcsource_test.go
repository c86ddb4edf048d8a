package warcsource

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWARC(records ...string) string {
	return strings.Join(records, "")
}

func responseRecord(targetURI, httpBody string) string {
	payload := "HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n" + httpBody
	return "WARC/1.0\r\n" +
		"WARC-Type: response\r\n" +
		"WARC-Target-URI: " + targetURI + "\r\n" +
		"Content-Length: " + itoa(len(payload)) + "\r\n" +
		"\r\n" + payload + "\r\n\r\n"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestReaderParsesResponseRecord(t *testing.T) {
	warc := buildWARC(responseRecord("http://example.com/", "<html></html>"))
	r := NewReader(strings.NewReader(warc))

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, RecordResponse, rec.Type)
	assert.Equal(t, "http://example.com/", rec.TargetURI)
	assert.Equal(t, 200, rec.HTTPStatusCode)
	assert.Equal(t, "text/html", rec.MimeType())
	assert.Equal(t, "<html></html>", string(rec.Content))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenAutodetectsGzippedWARC(t *testing.T) {
	warc := buildWARC(responseRecord("http://example.com/", "<html></html>"))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(warc))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	path := filepath.Join(t.TempDir(), "capture.warc.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	it, err := Open([]string{path})
	require.NoError(t, err)
	defer it.Close()

	rec, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/", rec.TargetURI)
	assert.Equal(t, "<html></html>", string(rec.Content))

	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}
