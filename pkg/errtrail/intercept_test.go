package errtrail

import (
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogInterceptor_RecordsBreadcrumbs(t *testing.T) {
	crumbs := NewBreadcrumbLog(10)
	li := NewLogInterceptor(crumbs)

	li.Enable()
	defer li.Disable()
	log.Print("something happened")

	all := crumbs.All()
	if len(all) != 1 {
		t.Fatalf("got %d breadcrumbs", len(all))
	}
	if all[0].Category != "log" {
		t.Errorf("category = %q", all[0].Category)
	}
}

func TestLogInterceptor_DisableRestores(t *testing.T) {
	crumbs := NewBreadcrumbLog(10)
	li := NewLogInterceptor(crumbs)
	before := log.Writer()

	li.Enable()
	li.Disable()

	if log.Writer() != before {
		t.Error("Disable should restore the original writer")
	}
	log.SetOutput(before)

	log.Print("after disable")
	if crumbs.Len() != 0 {
		t.Error("disabled interceptor still recording")
	}
}

func TestLogInterceptor_EnableIdempotent(t *testing.T) {
	crumbs := NewBreadcrumbLog(10)
	li := NewLogInterceptor(crumbs)
	before := log.Writer()

	li.Enable()
	li.Enable()
	li.Disable()

	if log.Writer() != before {
		t.Error("double enable broke restore")
	}
	li.Disable()
}

func TestHTTPInterceptor_WrapTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	crumbs := NewBreadcrumbLog(10)
	hi := NewHTTPInterceptor(crumbs)
	client := &http.Client{Transport: hi.WrapTransport(nil)}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	all := crumbs.All()
	if len(all) != 1 {
		t.Fatalf("got %d breadcrumbs", len(all))
	}
	b := all[0]
	if b.Category != "http" {
		t.Errorf("category = %q", b.Category)
	}
	if b.Level != LevelError {
		t.Errorf("5xx should record at error level, got %v", b.Level)
	}
	if b.Data["status"] != http.StatusBadGateway {
		t.Errorf("data = %v", b.Data)
	}
}

func TestHTTPInterceptor_FailedRequest(t *testing.T) {
	crumbs := NewBreadcrumbLog(10)
	hi := NewHTTPInterceptor(crumbs)
	rt := hi.WrapTransport(failingTransport{})

	req, _ := http.NewRequest(http.MethodGet, "http://unreachable.invalid/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected transport error")
	}

	all := crumbs.All()
	if len(all) != 1 || all[0].Level != LevelError {
		t.Fatalf("breadcrumbs = %+v", all)
	}
	if all[0].Data["error"] == nil {
		t.Error("error detail missing from breadcrumb data")
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial refused")
}
