package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"harvest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Reporte Final: Ventas & Marketing 2026.pdf": "reporte-final-ventas-marketing-2026.pdf",
		"../../etc/passwd":                           "passwd",
		`C:\Users\me\Book1.XLSX`:                     "book1.xlsx",
		"???.csv":                                    "unnamed-file.csv",
		"":                                           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestFileInput_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/data.csv":
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		case "/busy.csv":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	in := fileInput{client: srv.Client()}
	path, name, cleanup, err := in.localFile(context.Background(), Request{Target: srv.URL + "/files/data.csv"})
	require.NoError(t, err)
	assert.Equal(t, "data.csv", name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, _, err = in.localFile(context.Background(), Request{Target: srv.URL + "/busy.csv"})
	assert.ErrorIs(t, err, models.ErrExtractionTransient)

	_, _, _, err = in.localFile(context.Background(), Request{Target: srv.URL + "/missing.csv"})
	assert.ErrorIs(t, err, models.ErrExtractionFatal)
}

func TestFileInput_NothingToRead(t *testing.T) {
	_, _, cleanup, err := fileInput{}.localFile(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExtractionFatal)
	cleanup()
}
