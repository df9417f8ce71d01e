package workflow

import (
	"encoding/json"

	"responder/core"
)

// BuiltinDescriptors returns the default action set registered at startup.
// Deployments replace or extend this through Catalog.Reload.
func BuiltinDescriptors() []core.ActionDescriptor {
	return []core.ActionDescriptor{
		{
			Type:        "http_request",
			Name:        "HTTP Request",
			Description: "Calls an external HTTP endpoint and records the response",
			PayloadType: "generic",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["url", "method"],
				"properties": {
					"url": {"type": "string"},
					"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE"]},
					"headers": {"type": "object"},
					"body": {"type": "string"}
				}
			}`),
			OutputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"status_code": {"type": "integer"},
					"body": {"type": "string"}
				}
			}`),
		},
		{
			Type:        "block_ip",
			Name:        "Block IP",
			Description: "Adds an IP address to the enforcement blocklist",
			PayloadType: "incident",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["ip"],
				"properties": {
					"ip": {"type": "string"},
					"duration_minutes": {"type": "integer", "minimum": 1}
				}
			}`),
		},
		{
			Type:        "isolate_host",
			Name:        "Isolate Host",
			Description: "Quarantines a host from the network",
			PayloadType: "incident",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["hostname"],
				"properties": {
					"hostname": {"type": "string"}
				}
			}`),
		},
		{
			Type:        "send_notification",
			Name:        "Send Notification",
			Description: "Delivers a message to a configured notification channel",
			PayloadType: "generic",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["channel", "message"],
				"properties": {
					"channel": {"type": "string"},
					"message": {"type": "string"}
				}
			}`),
		},
		{
			Type:        "enrich_indicator",
			Name:        "Enrich Indicator",
			Description: "Looks up threat intelligence for an indicator",
			PayloadType: "observation",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["indicator"],
				"properties": {
					"indicator": {"type": "string"},
					"indicator_type": {"type": "string", "enum": ["ip", "domain", "hash", "url"]}
				}
			}`),
			OutputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"verdict": {"type": "string"},
					"sources": {"type": "array", "items": {"type": "string"}}
				}
			}`),
		},
		{
			Type:        "create_ticket",
			Name:        "Create Ticket",
			Description: "Opens a ticket in the configured tracker",
			PayloadType: "incident",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["summary"],
				"properties": {
					"summary": {"type": "string"},
					"description": {"type": "string"},
					"priority": {"type": "string", "enum": ["low", "medium", "high", "critical"]}
				}
			}`),
		},
		{
			Type:        "run_query",
			Name:        "Run Query",
			Description: "Executes a saved search and returns matching records",
			PayloadType: "observation",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"required": ["query"],
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 10000}
				}
			}`),
		},
	}
}

// BuiltinSchemas returns the named payload schema documents served by the
// schemas endpoint. The set mirrors the payload families the catalog
// descriptors operate on.
func BuiltinSchemas() []core.Schema {
	return []core.Schema{
		{
			DataType: "incident",
			Document: json.RawMessage(`{
				"type": "object",
				"required": ["incident_id", "severity"],
				"properties": {
					"incident_id": {"type": "string"},
					"severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
					"summary": {"type": "string"},
					"assets": {"type": "array", "items": {"type": "string"}},
					"created_at": {"type": "string", "format": "date-time"}
				}
			}`),
		},
		{
			DataType: "observation",
			Document: json.RawMessage(`{
				"type": "object",
				"required": ["observation_id"],
				"properties": {
					"observation_id": {"type": "string"},
					"source": {"type": "string"},
					"indicators": {"type": "array", "items": {"type": "string"}},
					"observed_at": {"type": "string", "format": "date-time"}
				}
			}`),
		},
		{
			DataType: "generic",
			Document: json.RawMessage(`{
				"type": "object"
			}`),
		},
	}
}
