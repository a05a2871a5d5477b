// Package openapi builds the OpenAPI 3.0 document for the HTTP API by
// reflecting on the registered resource and action models.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI document from registered JSON:API resources
// and plain JSON actions. The document is built once and cached until the
// next registration.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string

	mu         sync.RWMutex
	resources  []ResourceInfo
	actions    []ActionInfo
	cachedSpec *openapi3.T
}

// ResourceInfo describes a JSON:API resource served under /api/v1/{Name}.
type ResourceInfo struct {
	Name           string // resource type, e.g. "pages"
	Model          any    // attributes struct
	SupportsFind   bool   // GET collection and item
	SupportsCreate bool   // POST collection
	SupportsUpdate bool   // PATCH item
	SupportsDelete bool   // DELETE item
	Filters        []string
}

// ActionInfo describes a plain JSON endpoint outside the JSON:API resources.
type ActionInfo struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	Query       []string
	Request     any // nil for no body
	Response    any // nil for no body
	Status      int // success status, default 200
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) { g.title = title }
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) { g.version = version }
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) { g.description = description }
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) { g.servers = append(g.servers, url) }
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:   "Pagehost API",
		version: "1.0.0",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterResource adds a JSON:API resource.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cachedSpec = nil
}

// RegisterAction adds a plain JSON endpoint.
func (g *Generator) RegisterAction(info ActionInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if info.Status == 0 {
		info.Status = http.StatusOK
	}
	g.actions = append(g.actions, info)
	g.cachedSpec = nil
}

// Generate returns the OpenAPI document.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if spec := g.cachedSpec; spec != nil {
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Paths: &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	addCommonSchemas(spec)
	for _, res := range g.resources {
		addResource(spec, res)
	}
	for _, action := range g.actions {
		addAction(spec, action)
	}

	g.cachedSpec = spec
	return spec
}

// Handler serves the document as JSON.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Generate()); err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schemas
// =============================================================================

func addCommonSchemas(spec *openapi3.T) {
	str := func() *openapi3.SchemaRef { return openapi3.NewStringSchema().NewRef() }
	integer := func() *openapi3.SchemaRef { return openapi3.NewIntegerSchema().NewRef() }

	spec.Components.Schemas["Error"] = openapi3.NewObjectSchema().
		WithProperty("error_kind", openapi3.NewStringSchema().WithEnum("validation", "conflict", "auth", "not_found", "downstream")).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("stage", openapi3.NewStringSchema()).
		NewRef()

	spec.Components.Schemas["PaginationMeta"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"total":  integer(),
			"limit":  integer(),
			"offset": integer(),
		},
	}}

	spec.Components.Schemas["Links"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"self":    str(),
			"related": str(),
		},
	}}
}

func addResource(spec *openapi3.T, res ResourceInfo) {
	basePath := "/api/v1/" + res.Name
	schemaName := pascal(singularize(res.Name))

	spec.Components.Schemas[schemaName+"Attributes"] = schemaOf(res.Model)
	spec.Components.Schemas[schemaName] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"type":       openapi3.NewStringSchema().WithEnum(res.Name).NewRef(),
			"id":         openapi3.NewStringSchema().NewRef(),
			"attributes": openapi3.NewSchemaRef("#/components/schemas/"+schemaName+"Attributes", nil),
		},
		Required: []string{"type", "id"},
	}}
	spec.Components.Schemas[schemaName+"Document"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"data":  openapi3.NewSchemaRef("#/components/schemas/"+schemaName, nil),
			"links": openapi3.NewSchemaRef("#/components/schemas/Links", nil),
		},
	}}
	spec.Components.Schemas[schemaName+"ListDocument"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"data": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: openapi3.NewSchemaRef("#/components/schemas/"+schemaName, nil),
			}},
			"meta": openapi3.NewSchemaRef("#/components/schemas/PaginationMeta", nil),
		},
	}}

	tag := pascal(res.Name)
	collection := &openapi3.PathItem{}
	item := &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())},
		},
	}

	if res.SupportsFind {
		params := openapi3.Parameters{
			{Value: openapi3.NewQueryParameter("page[size]").WithSchema(openapi3.NewIntegerSchema())},
			{Value: openapi3.NewQueryParameter("page[offset]").WithSchema(openapi3.NewIntegerSchema())},
		}
		for _, f := range res.Filters {
			params = append(params, &openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter("filter[" + f + "]").WithSchema(openapi3.NewStringSchema()),
			})
		}
		collection.Get = operation("list"+tag, "List "+humanize(res.Name), tag, http.StatusOK, schemaName+"ListDocument")
		collection.Get.Parameters = params
		item.Get = operation("get"+schemaName, "Get a "+humanize(singularize(res.Name)), tag, http.StatusOK, schemaName+"Document")
	}
	if res.SupportsCreate {
		collection.Post = operation("create"+schemaName, "Create a "+humanize(singularize(res.Name)), tag, http.StatusCreated, schemaName+"Document")
		collection.Post.RequestBody = body("application/vnd.api+json", schemaName+"Document")
	}
	if res.SupportsUpdate {
		item.Patch = operation("update"+schemaName, "Update a "+humanize(singularize(res.Name)), tag, http.StatusOK, schemaName+"Document")
		item.Patch.RequestBody = body("application/vnd.api+json", schemaName+"Document")
	}
	if res.SupportsDelete {
		item.Delete = operation("delete"+schemaName, "Delete a "+humanize(singularize(res.Name)), tag, http.StatusNoContent, "")
	}

	spec.Paths.Set(basePath, collection)
	spec.Paths.Set(basePath+"/{id}", item)
}

func addAction(spec *openapi3.T, a ActionInfo) {
	respSchema := ""
	if a.Response != nil {
		respSchema = typeName(a.Response)
		spec.Components.Schemas[respSchema] = schemaOf(a.Response)
	}

	op := operation(a.OperationID, a.Summary, a.Tag, a.Status, respSchema)
	if a.Request != nil {
		reqSchema := typeName(a.Request)
		spec.Components.Schemas[reqSchema] = schemaOf(a.Request)
		op.RequestBody = body("application/json", reqSchema)
	}
	for _, q := range a.Query {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter(q).WithSchema(openapi3.NewStringSchema()),
		})
	}
	if strings.Contains(a.Path, "{id}") {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema()),
		})
	}

	item := spec.Paths.Value(a.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		spec.Paths.Set(a.Path, item)
	}
	item.SetOperation(a.Method, op)
}

func operation(id, summary, tag string, status int, schema string) *openapi3.Operation {
	responses := openapi3.NewResponses()
	desc := http.StatusText(status)
	resp := &openapi3.Response{Description: &desc}
	if schema != "" {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/"+schema, nil))
	}
	responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})

	errDesc := "Error"
	responses.Set("default", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &errDesc,
		Content:     openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/Error", nil)),
	}})

	return &openapi3.Operation{
		OperationID: id,
		Summary:     summary,
		Tags:        []string{tag},
		Responses:   responses,
	}
}

func body(contentType, schema string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content: openapi3.Content{
			contentType: &openapi3.MediaType{Schema: openapi3.NewSchemaRef("#/components/schemas/"+schema, nil)},
		},
	}}
}

// =============================================================================
// Reflection
// =============================================================================

var timeType = reflect.TypeOf(time.Time{})

// schemaOf reflects a struct into an object schema keyed by json tags.
// Fields tagged json:"-" are skipped.
func schemaOf(model any) *openapi3.SchemaRef {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return structSchema(t)
}

func structSchema(t reflect.Type) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		schema.Properties[name] = typeSchema(field.Type)
		if strings.Contains(field.Tag.Get("validate"), "required") && !strings.Contains(opts, "omitempty") {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	schema.Required = required
	return &openapi3.SchemaRef{Value: schema}
}

func typeSchema(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return openapi3.NewStringSchema().NewRef()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return openapi3.NewInt32Schema().NewRef()
	case reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			return openapi3.NewStringSchema().NewRef()
		}
		return openapi3.NewInt64Schema().NewRef()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return openapi3.NewIntegerSchema().NewRef()
	case reflect.Float32, reflect.Float64:
		return openapi3.NewFloat64Schema().NewRef()
	case reflect.Bool:
		return openapi3.NewBoolSchema().NewRef()
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return openapi3.NewBytesSchema().NewRef()
		}
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: typeSchema(t.Elem()),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: typeSchema(t.Elem())},
		}}
	case reflect.Ptr:
		ref := typeSchema(t.Elem())
		if ref.Value != nil {
			ref.Value.Nullable = true
		}
		return ref
	case reflect.Struct:
		if t == timeType {
			return openapi3.NewDateTimeSchema().NewRef()
		}
		return structSchema(t)
	}
	return openapi3.NewObjectSchema().NewRef()
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// =============================================================================
// Helpers
// =============================================================================

// pascal turns "page_deployments" into "PageDeployments".
func pascal(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// humanize turns "page_deployments" into "page deployments".
func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// singularize drops a plural suffix: "ies" becomes "y", a trailing "s" is removed.
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	return strings.TrimSuffix(s, "s")
}
