package mcp

import (
	"context"
	"reflect"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/broker"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

func echoBroker() *broker.Broker {
	b := broker.New()
	for _, name := range []string{tools.TextGenerate, tools.ImageGenerate, tools.ComplianceCheck} {
		name := name
		b.Register(core.ToolFunc{ToolName: name, Fn: func(_ context.Context, args core.Args) (core.Result, error) {
			return core.Result{"tool": name, "prompt": args.String("prompt")}, nil
		}})
	}
	return b
}

func request(args map[string]interface{}) mcpgo.CallToolRequest {
	var req mcpgo.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestExposeRespectsFilter(t *testing.T) {
	s := NewServer("tgads", "test", echoBroker(),
		WithToolFilter(governance.NewToolFilter(governance.WithDenylist([]string{"image.*"}))))

	got := s.Expose(context.Background(), DefaultSpecs()...)
	want := []string{tools.ComplianceCheck, tools.TextGenerate}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expose() = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(s.Tools(), want) {
		t.Errorf("Tools() = %v", s.Tools())
	}
}

func TestHandlerForwardsToBroker(t *testing.T) {
	s := NewServer("tgads", "test", echoBroker())
	res, err := s.handler(tools.TextGenerate)(context.Background(), request(map[string]interface{}{"prompt": "сок"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	structured, ok := res.StructuredContent.(map[string]any)
	if !ok || structured["prompt"] != "сок" || structured["tool"] != tools.TextGenerate {
		t.Errorf("structured content = %#v", res.StructuredContent)
	}
	text, ok := res.Content[0].(mcpgo.TextContent)
	if !ok || !strings.Contains(text.Text, `"prompt":"сок"`) {
		t.Errorf("text content = %#v", res.Content[0])
	}
}

func TestHandlerAppliesPermissions(t *testing.T) {
	b := echoBroker()
	b.SetAgentPermissions("mcp", tools.ComplianceCheck)
	s := NewServer("tgads", "test", b, WithAgentName("mcp"))

	res, err := s.handler(tools.ImageGenerate)(context.Background(), request(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for a tool outside the permission set")
	}
	text := res.Content[0].(mcpgo.TextContent).Text
	if !strings.Contains(text, "SECURITY") {
		t.Errorf("error text = %q", text)
	}

	res, err = s.handler(tools.ComplianceCheck)(context.Background(), request(map[string]interface{}{"text": "ok"}))
	if err != nil || res.IsError {
		t.Fatalf("permitted call failed: %v %+v", err, res)
	}
}

func TestHandlerUnknownTool(t *testing.T) {
	s := NewServer("tgads", "test", broker.New())
	res, err := s.handler("missing.tool")(context.Background(), request(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content[0].(mcpgo.TextContent).Text, "TOOL_NOT_FOUND") {
		t.Errorf("result = %+v", res)
	}
}
