package objstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestStore_PutGetExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(time.Hour, clock.Now)

	obj, err := s.Put("a.pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(obj.ID) != 12 {
		t.Errorf("id %q length = %d, want 12", obj.ID, len(obj.ID))
	}
	if got, ok := s.Get(obj.ID); !ok || string(got.Data) != "%PDF" {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	clock.t = clock.t.Add(time.Hour)
	if _, ok := s.Get(obj.ID); ok {
		t.Error("object should expire after TTL")
	}
	if s.Len() != 0 {
		t.Errorf("Len after expiry = %d", s.Len())
	}
}

func TestStore_PutEmpty(t *testing.T) {
	if _, err := New(0, nil).Put("x", "", nil); err != ErrEmpty {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func newServer(t *testing.T, s *Store) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	s.Register(mux, nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlers_RoundTrip(t *testing.T) {
	s := New(0, nil)
	srv := newServer(t, s)

	body, _ := json.Marshal(map[string]string{
		"filename":    "promo.png",
		"contentType": "image/png",
		"dataBase64":  base64.StdEncoding.EncodeToString([]byte("PNGDATA")),
	})
	resp, err := http.Post(srv.URL+"/api/object", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var up UploadResponse
	json.NewDecoder(resp.Body).Decode(&up)
	if !up.OK || up.URL != "/api/object/"+up.ID+"/promo.png" {
		t.Fatalf("upload response = %+v", up)
	}

	get, err := http.Get(srv.URL + up.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", get.StatusCode)
	}
	if got := get.Header.Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := get.Header.Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := get.Header.Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestHandlers_Errors(t *testing.T) {
	srv := newServer(t, New(0, nil))

	resp, _ := http.Post(srv.URL+"/api/object", "application/json", strings.NewReader(`{"filename":"a"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty upload status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/object/nope/x.pdf")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing object status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLocalUploader(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	u := &LocalUploader{Store: New(0, nil), PublicBaseURL: "https://bot.example.com/", Now: clock.Now}

	up, err := u.Upload(context.Background(), []byte("x"), "application/pdf", "promo")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.Filename != "promo-2025-01-02-03-04-05.pdf" {
		t.Errorf("Filename = %q", up.Filename)
	}
	if want := "https://bot.example.com/api/object/" + up.ID + "/" + up.Filename; up.URL != want {
		t.Errorf("URL = %q, want %q", up.URL, want)
	}
}

func TestLocalUploader_RelativeWithoutBase(t *testing.T) {
	u := &LocalUploader{Store: New(0, nil)}
	up, err := u.Upload(context.Background(), []byte("x"), "image/png", "promo")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(up.URL, "/api/object/") {
		t.Errorf("URL = %q, want server-relative", up.URL)
	}
}

func TestHTTPUploader(t *testing.T) {
	s := New(0, nil)
	srv := newServer(t, s)
	u := NewHTTPUploader(srv.URL)

	up, err := u.Upload(context.Background(), []byte("data"), "image/png", "banner")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(up.URL, srv.URL+"/api/object/") {
		t.Errorf("URL = %q", up.URL)
	}
	if obj, ok := s.Get(up.ID); !ok || string(obj.Data) != "data" {
		t.Error("object not stored on server")
	}
}

func TestHTTPUploader_NoBase(t *testing.T) {
	_, err := NewHTTPUploader("").Upload(context.Background(), []byte("x"), "image/png", "b")
	if err == nil || err.Error() != "PUBLIC_BASE_URL is required for upload" {
		t.Errorf("err = %v", err)
	}
}
