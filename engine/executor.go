package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"responder/core"
	"responder/workflow"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ActionExecutor is the pluggable seam to the action runtime. The engine
// invokes it for every action step; deployments swap in executors that call
// their security technologies.
type ActionExecutor interface {
	Execute(ctx context.Context, step *core.Step, input map[string]interface{}) (map[string]interface{}, error)
}

// CatalogExecutor is the default executor. It validates step input against
// the catalog descriptor's input schema, performs real HTTP calls for
// http_request steps, and acknowledges every other action type so workflows
// remain runnable without external integrations.
type CatalogExecutor struct {
	catalog   *workflow.Catalog
	inspector *workflow.Inspector
	client    *http.Client
	logger    *zap.SugaredLogger
}

// Compile-time interface compliance check
var _ ActionExecutor = (*CatalogExecutor)(nil)

// NewCatalogExecutor creates the default executor.
func NewCatalogExecutor(catalog *workflow.Catalog, inspector *workflow.Inspector, logger *zap.SugaredLogger) *CatalogExecutor {
	return &CatalogExecutor{
		catalog:   catalog,
		inspector: inspector,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Execute validates input against the descriptor schema and dispatches on
// action type.
func (e *CatalogExecutor) Execute(ctx context.Context, step *core.Step, input map[string]interface{}) (map[string]interface{}, error) {
	descriptor, ok := e.catalog.Get(step.ActionType)
	if !ok {
		return nil, fmt.Errorf("action type %q is not in the catalog", step.ActionType)
	}

	if len(descriptor.InputSchema) > 0 {
		if err := e.validateInput(descriptor.InputSchema, input); err != nil {
			return nil, err
		}
	}

	if step.ActionType == "http_request" {
		return e.executeHTTPRequest(ctx, input)
	}

	// Non-integrated actions acknowledge with their parameters echoed so
	// downstream steps can interpolate over them.
	e.logger.Debugw("Action acknowledged",
		"action_type", step.ActionType,
		"step_id", step.ID)
	return map[string]interface{}{
		"action": step.ActionType,
		"status": "ok",
		"input":  input,
	}, nil
}

func (e *CatalogExecutor) validateInput(schema json.RawMessage, input map[string]interface{}) error {
	compiled, err := e.inspector.CompileSchema(schema)
	if err != nil {
		return fmt.Errorf("failed to compile input schema: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("failed to validate action input: %w", err)
	}
	if !result.Valid() {
		fields := make([]core.FieldError, 0, len(result.Errors()))
		for _, detail := range result.Errors() {
			fields = append(fields, core.FieldError{
				Field:   detail.Field(),
				Message: detail.Description(),
			})
		}
		return core.NewValidationError("action input does not match schema", fields...)
	}
	return nil
}

func (e *CatalogExecutor) executeHTTPRequest(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	url, _ := input["url"].(string)
	method, _ := input["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if raw, ok := input["body"].(string); ok && raw != "" {
		body = bytes.NewBufferString(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}, nil
}
