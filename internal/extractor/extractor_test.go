package extractor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobs map[string][]byte

func (m memoryBlobs) Download(_ context.Context, ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func newTestGateway(t *testing.T, blobs memoryBlobs) *Gateway {
	t.Helper()
	g, err := NewGateway(context.Background(), blobs)
	require.NoError(t, err)
	return g
}

func TestExtractPlainText(t *testing.T) {
	g := newTestGateway(t, memoryBlobs{
		"resume/1/original.txt": []byte("\xef\xbb\xbfJane Doe\nBackend Engineer"),
	})
	text, err := g.Extract(context.Background(), "resume/1/original.txt")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nBackend Engineer", text)
}

func TestExtractHTMLDropsScripts(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body>
		<h1>Jane   Doe</h1>
		<script>alert(1)</script>
		<p>Go, SQL</p>
	</body></html>`
	g := newTestGateway(t, memoryBlobs{"resume/2/original.HTML": []byte(html)})

	text, err := g.Extract(context.Background(), "resume/2/original.HTML")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo, SQL", text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	g := newTestGateway(t, memoryBlobs{"resume/3/original.docx": []byte("x")})

	_, err := g.Extract(context.Background(), "resume/3/original.docx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "resume/3/original.docx", extractionErr.Ref)
}

func TestExtractMissingBlob(t *testing.T) {
	g := newTestGateway(t, memoryBlobs{})
	_, err := g.Extract(context.Background(), "resume/4/original.txt")
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

func TestExtractInvalidUTF8(t *testing.T) {
	g := newTestGateway(t, memoryBlobs{"a.txt": {0xff, 0xfe, 0xfd}})
	_, err := g.Extract(context.Background(), "a.txt")
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

func TestExtractCorruptPDF(t *testing.T) {
	g := newTestGateway(t, memoryBlobs{"a.pdf": []byte("not a pdf")})
	_, err := g.Extract(context.Background(), "a.pdf")
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

type upperBackend struct{}

func (upperBackend) ExtractText(_ context.Context, data []byte, _ string) (string, error) {
	return "DOCX:" + string(data), nil
}

func TestWithBackendRegistersExtension(t *testing.T) {
	g, err := NewGateway(context.Background(), memoryBlobs{"a.docx": []byte("body")}, WithBackend(upperBackend{}, ".DOCX"))
	require.NoError(t, err)

	text, err := g.Extract(context.Background(), "a.docx")
	require.NoError(t, err)
	assert.Equal(t, "DOCX:body", text)
}

func TestTikaBackendHandlesOfficeDocuments(t *testing.T) {
	var gotContentType, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		gotContentType = r.Header.Get("Content-Type")
		gotName = r.Header.Get("X-Tika-Resource-Name")
		body, _ := io.ReadAll(r.Body)
		if string(body) == "broken" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte("Jane Doe\nBackend Engineer"))
	}))
	defer srv.Close()

	g, err := NewGateway(context.Background(), memoryBlobs{
		"resume/5/original.docx": []byte("PK docx bytes"),
		"resume/6/original.doc":  []byte("broken"),
	}, WithBackend(NewTikaBackend(srv.URL+"/", WithTikaTimeout(time.Second)), TikaExtensions...))
	require.NoError(t, err)

	text, err := g.Extract(context.Background(), "resume/5/original.docx")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nBackend Engineer", text)
	assert.Equal(t, "original.docx", gotName)
	assert.NotEmpty(t, gotContentType)

	_, err = g.Extract(context.Background(), "resume/6/original.doc")
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}
