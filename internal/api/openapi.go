package api

import (
	"fmt"

	"github.com/mattjoyce/vkore/internal/scheduler"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the fixed routes plus
// one launch operation per resolved module.
func buildOpenAPIDoc(modules []scheduler.ModuleStatus) map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Service health",
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/modules": map[string]any{
			"get": map[string]any{
				"operationId": "listModules",
				"summary":     "List loaded modules",
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/processes": map[string]any{
			"get": map[string]any{
				"operationId": "listProcesses",
				"summary":     "Running and recently exited instances",
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/events": map[string]any{
			"get": map[string]any{
				"operationId": "streamEvents",
				"summary":     "Server-sent event stream",
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
			},
		},
	}

	for _, m := range modules {
		if !m.Resolved {
			continue
		}
		for path, item := range buildModulePaths(m) {
			paths[path] = item
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "vkore",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// buildModulePaths builds OpenAPI path items for a single module.
func buildModulePaths(m scheduler.ModuleStatus) map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}
	return map[string]any{
		fmt.Sprintf("/modules/%s/launch", m.Name): map[string]any{
			"post": map[string]any{
				"operationId": fmt.Sprintf("%s__launch", m.Name),
				"summary":     fmt.Sprintf("%s: launch", m.Name),
				"tags":        []string{m.Name},
				"security":    secured,
				"responses": map[string]any{
					"202": map[string]any{"description": "Instance started"},
					"409": map[string]any{"description": "Dependencies unresolved"},
				},
			},
		},
		fmt.Sprintf("/modules/%s/output", m.Name): map[string]any{
			"get": map[string]any{
				"operationId": fmt.Sprintf("%s__output", m.Name),
				"summary":     fmt.Sprintf("%s: recent output", m.Name),
				"tags":        []string{m.Name},
				"security":    secured,
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
	}
}
