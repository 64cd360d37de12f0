package metadata

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/entitystore/model"
)

// OpenAPISchema projects entity metadata onto an OpenAPI object schema.
// Computed fields and the identifier are read-only; form validation rules
// become schema constraints.
func OpenAPISchema(meta model.EntityMetadata) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	schema.Title = meta.DisplayName
	schema.Description = meta.Description

	for _, f := range meta.Fields {
		prop := fieldSchema(f)
		if f.Computed || f.Name == model.IDField {
			prop.ReadOnly = true
		}
		schema.WithProperty(f.Name, prop)

		if f.Form != nil && f.Form.Validation != nil && f.Form.Validation.Required {
			schema.Required = append(schema.Required, f.Name)
		}
	}
	return schema
}

func fieldSchema(f model.FieldDescriptor) *openapi3.Schema {
	var rule model.ValidationRule
	if f.Form != nil && f.Form.Validation != nil {
		rule = *f.Form.Validation
	}

	var s *openapi3.Schema
	switch f.Type {
	case model.TypeNumber:
		s = openapi3.NewFloat64Schema()
		if rule.Min != nil {
			s.WithMin(*rule.Min)
		}
		if rule.Max != nil {
			s.WithMax(*rule.Max)
		}
	case model.TypeBoolean:
		s = openapi3.NewBoolSchema()
	case model.TypeDate:
		s = openapi3.NewDateTimeSchema()
	default:
		s = openapi3.NewStringSchema()
		if rule.MinLength != nil {
			s.WithMinLength(int64(*rule.MinLength))
		}
		if rule.MaxLength != nil {
			s.WithMaxLength(int64(*rule.MaxLength))
		}
		if rule.Pattern != "" {
			s.WithPattern(rule.Pattern)
		}
		if f.Form != nil && len(f.Form.Options) > 0 {
			values := make([]any, len(f.Form.Options))
			for i, o := range f.Form.Options {
				values[i] = o.Value
			}
			s.WithEnum(values...)
		}
	}
	s.Title = f.Label
	return s
}

// OpenAPIDocument describes the entity HTTP API of every type in reg.
func OpenAPIDocument(reg *Registry, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "entitystore",
			Version: version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{},
		},
	}

	errSchema := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	errRef := openapi3.NewSchemaRef("#/components/schemas/Error", errSchema)
	doc.Components.Schemas["Error"] = openapi3.NewSchemaRef("", errSchema)

	for _, name := range reg.Types() {
		meta, ok := reg.Entity(name)
		if !ok {
			continue
		}
		schema := OpenAPISchema(meta)
		doc.Components.Schemas[name] = openapi3.NewSchemaRef("", schema)
		ref := openapi3.NewSchemaRef("#/components/schemas/"+name, schema)
		addEntityPaths(doc, name, ref, errRef)
	}
	return doc
}

func addEntityPaths(doc *openapi3.T, name string, ref, errRef *openapi3.SchemaRef) {
	items := openapi3.NewArraySchema()
	items.Items = ref
	listSchema := openapi3.NewObjectSchema().
		WithProperty("items", items).
		WithProperty("total", openapi3.NewIntegerSchema()).
		WithProperty("page", openapi3.NewIntegerSchema()).
		WithProperty("page_size", openapi3.NewIntegerSchema())

	op := func(id, summary string) *openapi3.Operation {
		o := openapi3.NewOperation()
		o.OperationID = id
		o.Summary = summary
		o.Tags = []string{name}
		o.AddResponse(0, jsonResponse("Error envelope", errRef))
		return o
	}
	body := &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(ref)}
	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())}

	list := op("list_"+name, "List "+name)
	for _, p := range []string{"page", "page_size"} {
		list.AddParameter(openapi3.NewQueryParameter(p).WithSchema(openapi3.NewIntegerSchema()))
	}
	list.AddParameter(openapi3.NewQueryParameter("q").WithSchema(openapi3.NewStringSchema()))
	list.AddParameter(openapi3.NewQueryParameter("sort").WithSchema(openapi3.NewStringSchema()))
	list.AddResponse(200, jsonResponse("A page of "+name, openapi3.NewSchemaRef("", listSchema)))

	create := op("create_"+name, "Create one of "+name)
	create.RequestBody = body
	create.AddResponse(201, jsonResponse("Created", ref))

	get := op("get_"+name, "Get one of "+name)
	get.Parameters = append(get.Parameters, idParam)
	get.AddResponse(200, jsonResponse("Found", ref))

	update := op("update_"+name, "Patch one of "+name)
	update.Parameters = append(update.Parameters, idParam)
	update.RequestBody = body
	update.AddResponse(200, jsonResponse("Updated", ref))

	del := op("delete_"+name, "Delete one of "+name)
	del.Parameters = append(del.Parameters, idParam)
	del.AddResponse(204, openapi3.NewResponse().WithDescription("Deleted"))

	doc.Paths.Set("/api/entities/"+name, &openapi3.PathItem{Get: list, Post: create})
	doc.Paths.Set("/api/entities/"+name+"/{id}", &openapi3.PathItem{Get: get, Patch: update, Delete: del})
}

func jsonResponse(description string, ref *openapi3.SchemaRef) *openapi3.Response {
	return openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(ref)
}
