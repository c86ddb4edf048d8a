package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncoding(t *testing.T) {
	assert.Equal(t, "UTF-8", HeaderEncoding(`text/html; charset=UTF-8`))
	assert.Equal(t, "", HeaderEncoding(`text/html`))
}

func TestToStringEmpty(t *testing.T) {
	res, err := ToString(nil, "utf-8")
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestToStringHeaderEncoding(t *testing.T) {
	res, err := ToString([]byte("hello"), "utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, "utf-8", res.Encoding)
	assert.False(t, res.CharsIgnored)
}

func TestToStringDeclaredInContent(t *testing.T) {
	content := []byte(`<html><head><meta charset="iso-8859-1"></head></html>`)
	res, err := ToString(content, "")
	require.NoError(t, err)
	assert.Equal(t, "iso-8859-1", res.Encoding)
}

func TestToStringNoEncoding(t *testing.T) {
	res, err := ToString([]byte("plain ascii text"), "")
	require.NoError(t, err)
	assert.Equal(t, "plain ascii text", res.Text)
}

func TestHeaderEncodingAcceptsLettersAcrossFullAlphabet(t *testing.T) {
	// Regression: encodingRx once excluded x/y/z, breaking names like
	// "x-mac-cyrillic".
	assert.Equal(t, "x-mac-cyrillic", HeaderEncoding(`text/html; charset=x-mac-cyrillic`))
}
