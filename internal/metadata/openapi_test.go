package metadata

import (
	"context"
	"testing"
)

func TestOpenAPISchema_products(t *testing.T) {
	schemas, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	meta, _ := NewRegistry(schemas...).Entity("products")

	s := OpenAPISchema(meta)
	if s.Title != "Products" {
		t.Errorf("Title = %q", s.Title)
	}
	if len(s.Required) != 1 || s.Required[0] != "name" {
		t.Errorf("Required = %v, want [name]", s.Required)
	}

	id := s.Properties["id"]
	if id == nil || !id.Value.ReadOnly {
		t.Error("id should be read-only")
	}
	price := s.Properties["price"]
	if price == nil || price.Value.Min == nil || *price.Value.Min != 0 {
		t.Errorf("price schema = %+v", price)
	}
	category := s.Properties["category"]
	if category == nil || len(category.Value.Enum) != 3 {
		t.Errorf("category enum = %+v", category)
	}
}

func TestOpenAPISchema_validatesDocuments(t *testing.T) {
	schemas, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	meta, _ := NewRegistry(schemas...).Entity("tasks")
	s := OpenAPISchema(meta)

	if err := s.Validate(context.Background()); err != nil {
		t.Fatalf("schema invalid: %v", err)
	}
	if err := s.VisitJSON(map[string]any{"title": "write tests", "completed": false}); err != nil {
		t.Errorf("VisitJSON(valid) = %v", err)
	}
	if err := s.VisitJSON(map[string]any{"title": "ab"}); err == nil {
		t.Error("VisitJSON(short title) should fail")
	}
}

func TestOpenAPIDocument_coversEveryEntity(t *testing.T) {
	schemas, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	doc := OpenAPIDocument(NewRegistry(schemas...), "1.2.3")

	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("document invalid: %v", err)
	}
	if doc.Info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q", doc.Info.Version)
	}
	for _, name := range []string{"tasks", "products"} {
		if doc.Components.Schemas[name] == nil {
			t.Errorf("missing component schema %q", name)
		}
		collection := doc.Paths.Find("/api/entities/" + name)
		if collection == nil || collection.Get == nil || collection.Post == nil {
			t.Errorf("collection path for %q = %+v", name, collection)
		}
		item := doc.Paths.Find("/api/entities/" + name + "/{id}")
		if item == nil || item.Get == nil || item.Patch == nil || item.Delete == nil {
			t.Errorf("item path for %q = %+v", name, item)
		}
	}
	if op := doc.Paths.Find("/api/entities/tasks").Post; op.Responses.Status(201) == nil {
		t.Error("create should document 201")
	}
}
