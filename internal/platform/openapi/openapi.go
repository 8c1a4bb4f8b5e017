package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation documents one route. Tag groups it in the rendered spec.
type Operation struct {
	Summary     string
	Tag         string
	Query       []string
	RequestBody string // component schema name, if any
	Response    string // component schema name of the 2xx body, if any
	Status      int
}

// Generator builds an OpenAPI 3.0 spec from the routes registered on an echo
// instance. Routes without a documented Operation are listed with a generic
// summary.
type Generator struct {
	e       *echo.Echo
	version string
	baseURL string
	ops     map[string]Operation
}

func NewGenerator(e *echo.Echo, version, baseURL string) *Generator {
	return &Generator{e: e, version: version, baseURL: baseURL, ops: make(map[string]Operation)}
}

// Document attaches op to the route method+path, where path uses echo's
// ":param" syntax.
func (g *Generator) Document(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

// openAPIPath rewrites "/a/:b" as "/a/{b}" and lists the path parameters.
func openAPIPath(path string) (string, []string) {
	segs := strings.Split(path, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.e.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if r.Method == echo.RouteNotFound || strings.Contains(r.Path, "*") {
			continue
		}
		path, pathParams := openAPIPath(r.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[strings.ToLower(r.Method)] = g.buildOperation(r.Method, r.Path, pathParams)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Echocardiographic Reference Range API",
			"version":     g.version,
			"description": "Weight-indexed normal ranges and interpretation of canine and feline echocardiographic measurements",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}
}

func (g *Generator) buildOperation(method, path string, pathParams []string) map[string]interface{} {
	op, documented := g.ops[method+" "+path]
	if !documented {
		op = Operation{Summary: method + " " + path}
	}

	var params []map[string]interface{}
	for _, p := range pathParams {
		params = append(params, map[string]interface{}{
			"name": p, "in": "path", "required": true, "schema": map[string]string{"type": "string"},
		})
	}
	for _, q := range op.Query {
		params = append(params, map[string]interface{}{
			"name": q, "in": "query", "schema": map[string]string{"type": "string"},
		})
	}

	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(method, path),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}
	if len(params) > 0 {
		out["parameters"] = params
	}
	if op.RequestBody != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]interface{}{"$ref": "#/components/schemas/" + op.RequestBody},
				},
			},
		}
	}

	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}
	resp := map[string]interface{}{"description": http.StatusText(status)}
	if op.Response != "" {
		resp["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": "#/components/schemas/" + op.Response},
			},
		}
	}
	responses := map[string]interface{}{
		"400": map[string]interface{}{"description": "Invalid request"},
	}
	responses[strconv.Itoa(status)] = resp
	out["responses"] = responses
	return out
}

// operationID turns "GET /api/v1/reference-tables/:species/range" into
// "getReferenceTablesSpeciesRange".
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimPrefix(seg, ":")
		seg = strings.TrimPrefix(seg, "$")
		if seg == "" || seg == "api" || seg == "v1" {
			continue
		}
		for _, part := range strings.Split(seg, "-") {
			if part == "" {
				continue
			}
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Coding":           buildCodingSchema(),
		"CodeableConcept":  buildCodeableConceptSchema(),
		"Quantity":         buildQuantitySchema(),
		"Observation":      buildObservationSchema(),
		"Bundle":           buildBundleSchema(),
		"BundleEntry":      buildBundleEntrySchema(),
		"OperationOutcome": buildOperationOutcomeSchema(),
		"Bounds":           buildBoundsSchema(),
		"Study":            buildStudySchema(),
		"Result":           buildResultSchema(),
	}
}

// ── FHIR data types ─────────────────────────────────────────────────────

func buildCodingSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"system":  map[string]interface{}{"type": "string", "format": "uri"},
			"code":    map[string]interface{}{"type": "string"},
			"display": map[string]interface{}{"type": "string"},
		},
	}
}

func buildCodeableConceptSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"coding": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/Coding"},
			},
			"text": map[string]interface{}{"type": "string"},
		},
	}
}

func buildQuantitySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value":  map[string]interface{}{"type": "number"},
			"unit":   map[string]interface{}{"type": "string"},
			"system": map[string]interface{}{"type": "string", "format": "uri"},
			"code":   map[string]interface{}{"type": "string"},
		},
	}
}

func buildObservationSchema() map[string]interface{} {
	concepts := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"$ref": "#/components/schemas/CodeableConcept"},
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType":   map[string]interface{}{"type": "string", "enum": []string{"Observation"}},
			"id":             map[string]interface{}{"type": "string", "format": "uuid"},
			"status":         map[string]interface{}{"type": "string"},
			"category":       concepts,
			"code":           map[string]interface{}{"$ref": "#/components/schemas/CodeableConcept"},
			"valueQuantity":  map[string]interface{}{"$ref": "#/components/schemas/Quantity"},
			"interpretation": concepts,
			"referenceRange": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"low":  map[string]interface{}{"$ref": "#/components/schemas/Quantity"},
						"high": map[string]interface{}{"$ref": "#/components/schemas/Quantity"},
					},
				},
			},
		},
		"required": []string{"resourceType", "status", "code"},
	}
}

func buildBundleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"Bundle"}},
			"type":         map[string]interface{}{"type": "string", "enum": []string{"searchset", "collection"}},
			"total":        map[string]interface{}{"type": "integer", "minimum": 0},
			"entry": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/BundleEntry"},
			},
		},
	}
}

func buildBundleEntrySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"fullUrl":  map[string]interface{}{"type": "string", "format": "uri"},
			"resource": map[string]interface{}{"$ref": "#/components/schemas/Observation"},
		},
	}
}

func buildOperationOutcomeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
			"issue": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"severity":    map[string]interface{}{"type": "string", "enum": []string{"fatal", "error", "warning", "information"}},
						"code":        map[string]interface{}{"type": "string"},
						"diagnostics": map[string]interface{}{"type": "string"},
					},
					"required": []string{"severity", "code"},
				},
			},
		},
		"required": []string{"resourceType", "issue"},
	}
}

// ── Reference range types ───────────────────────────────────────────────

func buildBoundsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"min": map[string]interface{}{"type": "number", "nullable": true},
			"max": map[string]interface{}{"type": "number", "nullable": true},
		},
	}
}

func buildStudySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"species": map[string]interface{}{"type": "string", "example": "canine"},
			"weight":  map[string]interface{}{"type": "number", "description": "Body weight in kg"},
			"measurements": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "number"},
			},
		},
		"required": []string{"species", "weight", "measurements"},
	}
}

func buildResultSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key":            map[string]interface{}{"type": "string"},
			"name":           map[string]interface{}{"type": "string"},
			"unit":           map[string]interface{}{"type": "string"},
			"value":          map[string]interface{}{"type": "number"},
			"range":          map[string]interface{}{"$ref": "#/components/schemas/Bounds"},
			"interpretation": map[string]interface{}{"type": "string", "description": "Empty when no reference is available"},
			"band":           map[string]interface{}{"type": "string", "enum": []string{"below", "within", "above", "unavailable"}},
			"strategy":       map[string]interface{}{"type": "string", "enum": []string{"tabular", "fixed", "unsupported"}},
			"derived":        map[string]interface{}{"type": "boolean"},
		},
	}
}

// RegisterRoutes registers the OpenAPI endpoint.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}
