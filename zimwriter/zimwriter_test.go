package zimwriter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirWriterAddItemAndFinish(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDirWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.SetMainPath("example.com/"))
	require.NoError(t, w.ConfigMetadata(Metadata{Name: "test", Title: "Test"}))
	require.NoError(t, w.AddItem(Item{Path: "example.com/index.html", MimeType: "text/html", Content: []byte("<html></html>"), Title: "Home"}))
	require.NoError(t, w.AddAlias("example.com/alt.html", "", "example.com/index.html"))
	require.NoError(t, w.Finish())

	content, err := os.ReadFile(filepath.Join(dir, "content", "example.com", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(content))

	meta, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(meta, &decoded))
	assert.Equal(t, "test", decoded["Name"])
	assert.Equal(t, "example.com/", decoded["mainPath"])
}

func TestDirWriterRejectsDuplicatePath(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDirWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.AddItem(Item{Path: "a.html", MimeType: "text/html"}))
	err = w.AddItem(Item{Path: "a.html", MimeType: "text/html"})
	assert.Error(t, err)
}
