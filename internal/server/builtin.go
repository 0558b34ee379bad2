package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

type builtinHandler func(args map[string]any) (*mcp.CallToolResult, error)

type builtinTool struct {
	tool    mcp.Tool
	handler builtinHandler
}

// builtinTools are local tools that need no connector
type builtinTools struct {
	tools []builtinTool
	now   func() time.Time
}

func newBuiltinTools(now func() time.Time) *builtinTools {
	b := &builtinTools{now: now}
	b.tools = []builtinTool{
		{
			tool: mcp.NewTool("echo",
				mcp.WithDescription("Echo back the input text exactly as provided"),
				mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo back")),
			),
			handler: b.echo,
		},
		{
			tool: mcp.NewTool("hello",
				mcp.WithDescription("Returns a friendly greeting message"),
				mcp.WithString("name", mcp.Description("Optional name to include in greeting")),
			),
			handler: b.hello,
		},
		{
			tool: mcp.NewTool("get_time",
				mcp.WithDescription("Get the current date and time"),
				mcp.WithString("format",
					mcp.Description("Time format"),
					mcp.Enum("iso", "timestamp", "human"),
				),
			),
			handler: b.getTime,
		},
	}
	return b
}

func (b *builtinTools) list() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t.tool)
	}
	return out
}

func (b *builtinTools) get(name string) (builtinTool, bool) {
	for _, t := range b.tools {
		if t.tool.Name == name {
			return t, true
		}
	}
	return builtinTool{}, false
}

func (b *builtinTools) echo(args map[string]any) (*mcp.CallToolResult, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("the 'text' parameter must be a string")
	}
	return mcp.NewToolResultText(text), nil
}

func (b *builtinTools) hello(args map[string]any) (*mcp.CallToolResult, error) {
	name := "World"
	if v, ok := args["name"]; ok && v != nil {
		name = fmt.Sprint(v)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Hello, %s! Welcome to mcpgateway.", name)), nil
}

func (b *builtinTools) getTime(args map[string]any) (*mcp.CallToolResult, error) {
	format := "iso"
	if v, ok := args["format"].(string); ok && v != "" {
		format = strings.ToLower(v)
	}

	now := b.now()
	var s string
	switch format {
	case "iso":
		s = now.Format(time.RFC3339)
	case "timestamp":
		s = strconv.FormatInt(now.Unix(), 10)
	case "human":
		s = now.Format("Monday, January 02, 2006 at 03:04:05 PM")
	default:
		return nil, fmt.Errorf("invalid time format %q, use iso, timestamp or human", format)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Current time (%s): %s", format, s)), nil
}
