package detector

import (
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		img, err := jpeg.Decode(f)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, 32, img.Bounds().Dx())

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[{"x":1,"y":2,"width":10,"height":20,"class":"bottle","confidence":0.97}]}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL+"/", time.Second)
	defer r.Close()

	dets, err := r.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 16)))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, Detection{Label: "bottle", Confidence: 0.97, Box: image.Rect(1, 2, 11, 22)}, dets[0])
}

func TestRemoteDetectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predict":
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		case "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	_, err := r.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorContains(t, err, "500")
	assert.ErrorContains(t, r.CheckHealth(context.Background()), "503")
}

func TestRemoteCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, NewRemote(srv.URL, 0).CheckHealth(context.Background()))
}

func TestNone(t *testing.T) {
	var d Detector = None{}
	dets, err := d.Detect(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, dets)
	assert.NoError(t, d.Close())
}
