package data

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestImageRepo_RandomImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
		case "/html":
			_, _ = io.WriteString(w, "<html>not an image</html>")
		case "/empty":
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	img, err := NewImageRepo(srv.URL+"/ok").RandomImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pngHeader, img)

	for _, path := range []string{"/html", "/empty", "/down"} {
		_, err := NewImageRepo(srv.URL+path).RandomImage(context.Background())
		assert.Error(t, err, path)
	}
}

func TestImageRepo_DefaultURL(t *testing.T) {
	r := NewImageRepo("").(*imageRepo)
	assert.Equal(t, DefaultRandomImageURL, r.url)
}
