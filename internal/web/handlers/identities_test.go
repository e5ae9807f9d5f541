package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/enroll"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

func newIdentitiesFixture(ext *stubExtractor, camera capture.Device) (*IdentitiesHandler, *mock.MockIdentityStore) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.StoredIdentity{ID: "s1", DisplayName: "Alice", ClassID: "c1"})
	store.AddIdentity(database.StoredIdentity{ID: "s2", DisplayName: "Bob", ClassID: "c1", Embedding: []float32{5, 5}, Model: "test-model", Dim: 2, EnrolledAt: time.Now()})
	store.AddIdentity(database.StoredIdentity{ID: "s3", DisplayName: "Carol", ClassID: "c2"})

	enroller := &enroll.Service{
		Detector:  ext,
		Store:     store,
		Model:     "test-model",
		Timeout:   time.Second,
		Threshold: 0.6,
	}
	return NewIdentitiesHandler(store, enroller, camera, testConfig().Camera), store
}

func faceExtractor() *stubExtractor {
	return &stubExtractor{detections: []facematch.Detection{{Embedding: facematch.Embedding{0.1, 0.2}, Score: 0.9}}}
}

func multipartImage(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "face.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write(data)
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestIdentitiesHandler_List(t *testing.T) {
	handler, _ := newIdentitiesFixture(faceExtractor(), nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"s1", "s2", "s3"}},
		{"?class_id=c1", []string{"s1", "s2"}},
		{"?enrolled=true", []string{"s2"}},
		{"?q=car", []string{"s3"}},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.List(recorder, httptest.NewRequest("GET", "/api/v1/identities"+tc.query, nil))

			if recorder.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
			}
			var result []IdentityResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(result) != len(tc.want) {
				t.Fatalf("expected %v, got %+v", tc.want, result)
			}
			for i, id := range tc.want {
				if result[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, result[i].ID)
				}
			}
		})
	}
}

func TestIdentitiesHandler_List_HidesEmbedding(t *testing.T) {
	handler, _ := newIdentitiesFixture(faceExtractor(), nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/identities?enrolled=true", nil))

	if bytes.Contains(recorder.Body.Bytes(), []byte("embedding")) {
		t.Errorf("embedding must not be exposed: %s", recorder.Body.String())
	}
	var result []IdentityResponse
	_ = json.Unmarshal(recorder.Body.Bytes(), &result)
	if len(result) != 1 || !result[0].Enrolled || result[0].Dim != 2 || result[0].EnrolledAt == nil {
		t.Errorf("unexpected response %+v", result)
	}
}

func TestIdentitiesHandler_Upsert(t *testing.T) {
	handler, store := newIdentitiesFixture(faceExtractor(), nil)

	req := httptest.NewRequest("PUT", "/", bytes.NewBufferString(`{"display_name":"Dave","class_id":"c2"}`))
	recorder := httptest.NewRecorder()
	handler.Upsert(recorder, requestWithChiParams(req, map[string]string{"id": "s4"}))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	stored, _ := store.Get(req.Context(), "s4")
	if stored == nil || stored.DisplayName != "Dave" || stored.ClassID != "c2" {
		t.Errorf("unexpected stored identity %+v", stored)
	}
}

func TestIdentitiesHandler_Upsert_Validation(t *testing.T) {
	handler, _ := newIdentitiesFixture(faceExtractor(), nil)

	for _, body := range []string{`{`, `{"class_id":"c1"}`} {
		req := httptest.NewRequest("PUT", "/", bytes.NewBufferString(body))
		recorder := httptest.NewRecorder()
		handler.Upsert(recorder, requestWithChiParams(req, map[string]string{"id": "s4"}))
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected status %d, got %d", body, http.StatusBadRequest, recorder.Code)
		}
	}
}

func TestIdentitiesHandler_Delete(t *testing.T) {
	handler, store := newIdentitiesFixture(faceExtractor(), nil)

	req := httptest.NewRequest("DELETE", "/", nil)
	recorder := httptest.NewRecorder()
	handler.Delete(recorder, requestWithChiParams(req, map[string]string{"id": "s1"}))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if stored, _ := store.Get(req.Context(), "s1"); stored != nil {
		t.Error("expected identity to be deleted")
	}
}

func TestIdentitiesHandler_Enroll(t *testing.T) {
	handler, store := newIdentitiesFixture(faceExtractor(), nil)

	body, contentType := multipartImage(t, testJPEG(t))
	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, requestWithChiParams(req, map[string]string{"id": "s1"}))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var result enroll.Result
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result.IdentityID != "s1" || result.Dim != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	stored, _ := store.Get(req.Context(), "s1")
	if stored == nil || !stored.HasEmbedding() {
		t.Error("expected embedding to be stored")
	}
}

func TestIdentitiesHandler_Enroll_Errors(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		ext      *stubExtractor
		image    []byte
		wantCode int
	}{
		{"unknown identity", "missing", faceExtractor(), nil, http.StatusNotFound},
		{"no face", "s1", &stubExtractor{}, nil, http.StatusUnprocessableEntity},
		{"not an image", "s1", faceExtractor(), []byte("not an image"), http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newIdentitiesFixture(tc.ext, nil)
			data := tc.image
			if data == nil {
				data = testJPEG(t)
			}

			body, contentType := multipartImage(t, data)
			req := httptest.NewRequest("POST", "/", body)
			req.Header.Set("Content-Type", contentType)
			recorder := httptest.NewRecorder()
			handler.Enroll(recorder, requestWithChiParams(req, map[string]string{"id": tc.id}))

			if recorder.Code != tc.wantCode {
				t.Errorf("expected status %d, got %d: %s", tc.wantCode, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestIdentitiesHandler_Enroll_MissingImage(t *testing.T) {
	handler, _ := newIdentitiesFixture(faceExtractor(), nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("other", "x")
	_ = writer.Close()

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, requestWithChiParams(req, map[string]string{"id": "s1"}))

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestIdentitiesHandler_EnrollCamera(t *testing.T) {
	device := &stubDevice{handle: &stubHandle{}}
	handler, _ := newIdentitiesFixture(faceExtractor(), device)

	recorder := httptest.NewRecorder()
	handler.EnrollCamera(recorder, requestWithChiParams(httptest.NewRequest("POST", "/", nil), map[string]string{"id": "s1"}))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	if device.handle.released != 1 {
		t.Errorf("expected camera to be released once, got %d", device.handle.released)
	}
}

func TestIdentitiesHandler_EnrollCamera_Unavailable(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		handler, _ := newIdentitiesFixture(faceExtractor(), nil)
		recorder := httptest.NewRecorder()
		handler.EnrollCamera(recorder, requestWithChiParams(httptest.NewRequest("POST", "/", nil), map[string]string{"id": "s1"}))
		if recorder.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
		}
	})

	t.Run("denied", func(t *testing.T) {
		device := &stubDevice{err: &capture.CameraAccessError{Device: "cam", Err: capture.ErrCameraDenied}}
		handler, _ := newIdentitiesFixture(faceExtractor(), device)
		recorder := httptest.NewRecorder()
		handler.EnrollCamera(recorder, requestWithChiParams(httptest.NewRequest("POST", "/", nil), map[string]string{"id": "s1"}))
		if recorder.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
		}
	})
}
