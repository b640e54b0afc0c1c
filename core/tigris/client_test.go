package tigris_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/tigris"
	"github.com/jasonchiu/cloudhelper/core/tigris/tigristest"
)

type doc struct {
	Name string `json:"name"`
}

func TestJSONObjects(t *testing.T) {
	fake := tigristest.New()
	c := tigris.New(fake, "bucket")
	ctx := context.Background()

	if err := c.PutJSON(ctx, "a/doc.json", doc{Name: "one"}, true); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if err := c.PutJSON(ctx, "a/doc.json", doc{Name: "two"}, true); !errors.Is(err, tigris.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if err := c.PutJSON(ctx, "a/doc.json", doc{Name: "two"}, false); err != nil {
		t.Fatalf("PutJSON overwrite: %v", err)
	}

	var got doc
	if err := c.GetJSON(ctx, "a/doc.json", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Name != "two" {
		t.Fatalf("got %#v", got)
	}
	if err := c.GetJSON(ctx, "a/missing.json", &got); !errors.Is(err, tigris.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}

	if err := c.DeleteObject(ctx, "a/doc.json"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := c.GetJSON(ctx, "a/doc.json", &got); !errors.Is(err, tigris.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestListPage(t *testing.T) {
	fake := tigristest.New()
	c := tigris.New(fake, "bucket")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := c.PutMarker(ctx, fmt.Sprintf("idx/%d", i)); err != nil {
			t.Fatalf("PutMarker: %v", err)
		}
	}
	if err := c.PutMarker(ctx, "other/x"); err != nil {
		t.Fatalf("PutMarker: %v", err)
	}

	var all []string
	token := ""
	pages := 0
	for {
		page, err := c.ListPage(ctx, "idx/", token, 2)
		if err != nil {
			t.Fatalf("ListPage: %v", err)
		}
		pages++
		all = append(all, page.Keys...)
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	if pages != 3 || fmt.Sprint(all) != "[idx/0 idx/1 idx/2 idx/3 idx/4]" {
		t.Fatalf("pages=%d keys=%v", pages, all)
	}
}

func TestNewFromConfigRequiresSettings(t *testing.T) {
	t.Setenv("TIGRIS_ACCESS_KEY", "")
	t.Setenv("TIGRIS_SECRET_KEY", "")
	if _, err := tigris.NewFromConfig(config.S3{Bucket: "b", Endpoint: "https://t3.storage.dev"}); err == nil {
		t.Fatal("expected missing credentials error")
	}

	t.Setenv("TIGRIS_ACCESS_KEY", "ak")
	t.Setenv("TIGRIS_SECRET_KEY", "sk")
	t.Setenv("TIGRIS_ENDPOINT", "")
	if _, err := tigris.NewFromConfig(config.S3{Bucket: "b"}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	if _, err := tigris.NewFromConfig(config.S3{Endpoint: "https://t3.storage.dev"}); err == nil {
		t.Fatal("expected missing bucket error")
	}
	if _, err := tigris.NewFromConfig(config.S3{Bucket: "b", Endpoint: "https://t3.storage.dev"}); err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
}
