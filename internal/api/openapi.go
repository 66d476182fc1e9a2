package api

import (
	"net/http"
	"sort"
)

type routeDoc struct {
	Method  string
	Path    string
	Summary string
	Query   []string
	Body    bool
}

var routeDocs = []routeDoc{
	{Method: "get", Path: "/healthz", Summary: "Liveness and queue counts (no auth)"},
	{Method: "get", Path: "/scripts", Summary: "List discovered scripts with run state", Query: []string{"tag", "favorites"}},
	{Method: "get", Path: "/scripts/detail", Summary: "One script with its full history", Query: []string{"path"}},
	{Method: "post", Path: "/scripts/run", Summary: "Run a script in background or terminal mode", Body: true},
	{Method: "post", Path: "/scripts/cancel", Summary: "Kill a running script", Body: true},
	{Method: "post", Path: "/scripts/reset", Summary: "Force a running or queued script back to idle", Body: true},
	{Method: "post", Path: "/scripts/dequeue", Summary: "Remove a queued script", Body: true},
	{Method: "delete", Path: "/scripts/history", Summary: "Clear a script's history", Query: []string{"path"}},
	{Method: "patch", Path: "/scripts/meta", Summary: "Edit favorite, icon, args, timeout, tags and env", Body: true},
	{Method: "get", Path: "/queue", Summary: "Running and queued scripts"},
	{Method: "post", Path: "/rescan", Summary: "Rescan the script folders"},
	{Method: "get", Path: "/settings", Summary: "Current settings"},
	{Method: "patch", Path: "/settings", Summary: "Update settings", Body: true},
	{Method: "get", Path: "/events", Summary: "Server-sent event stream", Query: []string{"types"}},
	{Method: "get", Path: "/metrics", Summary: "Prometheus metrics"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the routes above.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}

	docs := append([]routeDoc(nil), routeDocs...)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	for _, d := range docs {
		operation := map[string]any{
			"summary": d.Summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
			},
		}
		if d.Path != "/healthz" {
			operation["security"] = []any{
				map[string]any{"BearerAuth": []string{}},
				map[string]any{"KeyHeader": []string{}},
			}
			operation["responses"].(map[string]any)["401"] = map[string]any{"description": "Missing or invalid API key"}
		}
		if len(d.Query) > 0 {
			params := make([]any, 0, len(d.Query))
			for _, q := range d.Query {
				params = append(params, map[string]any{
					"name":   q,
					"in":     "query",
					"schema": map[string]any{"type": "string"},
				})
			}
			operation["parameters"] = params
		}
		if d.Body {
			operation["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object"},
					},
				},
			}
		}

		item, _ := paths[d.Path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[d.Path] = item
		}
		item[d.Method] = operation
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "scriptsrunner",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
				"KeyHeader": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "X-API-Key",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildOpenAPIDoc())
}
