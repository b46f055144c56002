// Package mcpserver exposes a harness as MCP tools.
//
// Tools: execute_code, list_servers, list_tools, get_tool_summary,
// get_tool_definition, search_tools and get_metrics. Every result is a single
// text content item; structured values are JSON encoded. Failures are
// reported as tool results with IsError set, never as protocol errors.
package mcpserver
