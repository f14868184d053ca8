package locker_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nanophys/lnhrdac2/server/middleware/locker"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCheckPassesWhenUnlocked(t *testing.T) {
	l := locker.New()
	h := l.Check(http.HandlerFunc(okHandler))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/voltage", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status %d, expected 200", w.Code)
	}
}

func TestCheckBouncesWhenLocked(t *testing.T) {
	l := locker.New()
	l.Lock()
	h := l.Check(http.HandlerFunc(okHandler))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/voltage", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("status %d, expected 423", w.Code)
	}
}

func TestCheckSparesUnprotectedRoutes(t *testing.T) {
	l := locker.New()
	l.Lock()
	h := l.Check(http.HandlerFunc(okHandler))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status %d, expected 200 on unprotected path", w.Code)
	}
}

func TestHTTPSetTogglesLock(t *testing.T) {
	l := locker.New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", bytes.NewBufferString(`{"bool": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, expected 200", w.Code)
	}
	if !l.Locked() {
		t.Fatal("locker not locked after HTTPSet true")
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", bytes.NewBufferString(`{"bool": false}`)))
	if l.Locked() {
		t.Fatal("locker still locked after HTTPSet false")
	}
}
