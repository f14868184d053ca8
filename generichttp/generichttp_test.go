package generichttp_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nanophys/lnhrdac2/generichttp"
)

func TestGetFloatEncodesValue(t *testing.T) {
	h := generichttp.GetFloat(func() (float64, error) { return 1.25, nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	var f generichttp.FloatT
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal("decode:", err)
	}
	if f.F64 != 1.25 {
		t.Errorf("got %v, expected 1.25", f.F64)
	}
}

func TestGetFloatPropagatesError(t *testing.T) {
	h := generichttp.GetFloat(func() (float64, error) { return 0, errors.New("no dice") })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status %d, expected 500", w.Code)
	}
}

func TestSetFloatDecodesBody(t *testing.T) {
	var got float64
	h := generichttp.SetFloat(func(f float64) error { got = f; return nil })
	body := bytes.NewBufferString(`{"f64": -2.5}`)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	if got != -2.5 {
		t.Errorf("callback got %v, expected -2.5", got)
	}
}

func TestSetFloatRejectsGarbage(t *testing.T) {
	h := generichttp.SetFloat(func(f float64) error { return nil })
	body := bytes.NewBufferString(`not json`)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, expected 400", w.Code)
	}
}

func TestSetBoolDecodesBody(t *testing.T) {
	var got bool
	h := generichttp.SetBool(func(b bool) error { got = b; return nil })
	body := bytes.NewBufferString(`{"bool": true}`)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	if !got {
		t.Error("callback got false, expected true")
	}
}

func TestRouteTableBindsToRouter(t *testing.T) {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/answer"}: generichttp.GetInt(func() (int, error) { return 42, nil }),
	}
	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/answer", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	var i generichttp.IntT
	if err := json.NewDecoder(w.Body).Decode(&i); err != nil {
		t.Fatal("decode:", err)
	}
	if i.Int != 42 {
		t.Errorf("got %d, expected 42", i.Int)
	}
}

func TestRouteTableEndpoints(t *testing.T) {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/a"}: nil,
	}
	eps := rt.Endpoints()
	if len(eps) != 1 || eps[0] != "GET /a" {
		t.Errorf("endpoints %v, expected [GET /a]", eps)
	}
}
