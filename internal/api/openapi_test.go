package api

import (
	"net/http"
	"testing"

	"github.com/mattjoyce/vkore/internal/scheduler"
)

func TestBuildOpenAPIDoc_NoModules(t *testing.T) {
	doc := buildOpenAPIDoc(nil)

	if doc["openapi"] != "3.1.0" {
		t.Errorf("expected openapi 3.1.0, got %v", doc["openapi"])
	}
	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/healthz", "/modules", "/processes", "/events"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("expected fixed path %s", p)
		}
	}
}

func TestBuildOpenAPIDoc_ResolvedModulesOnly(t *testing.T) {
	doc := buildOpenAPIDoc([]scheduler.ModuleStatus{
		{Name: "clock", Resolved: true},
		{Name: "fetcher", Resolved: false},
	})

	paths := doc["paths"].(map[string]any)
	launch, ok := paths["/modules/clock/launch"].(map[string]any)
	if !ok {
		t.Fatal("expected /modules/clock/launch path")
	}
	post := launch["post"].(map[string]any)
	if post["operationId"] != "clock__launch" {
		t.Errorf("expected operationId clock__launch, got %v", post["operationId"])
	}
	if _, ok := paths["/modules/fetcher/launch"]; ok {
		t.Error("unresolved module must not be advertised")
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rr := do(t, s, http.MethodGet, "/openapi.json", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	doc := decode[map[string]any](t, rr)
	paths := doc["paths"].(map[string]any)
	if _, ok := paths["/modules/clock/output"]; !ok {
		t.Fatalf("expected clock output path in %v", paths)
	}
}
