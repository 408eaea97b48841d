// Package ai runs schema-constrained prompts against LLM providers with a
// response cache, bounded retries and usage accounting.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientFailure marks provider failures worth retrying: timeouts,
	// rate limits and overloaded or unavailable upstreams.
	ErrTransientFailure = errors.New("ai: transient provider failure")
	// ErrSchemaValidation is returned when a response does not satisfy the
	// requested JSON schema. It is never retried.
	ErrSchemaValidation = errors.New("ai: response failed schema validation")
	// ErrInvalidRequest is returned for requests that cannot be sent.
	ErrInvalidRequest = errors.New("ai: invalid request")
	// ErrUnknownModel is returned when no provider serves a model.
	ErrUnknownModel = errors.New("ai: unknown model")
)

// ProviderRequest is one prompt sent to a provider.
type ProviderRequest struct {
	Model  string
	Prompt string
	Schema json.RawMessage
}

// ProviderResponse is the raw text and token usage of one provider call.
type ProviderResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Provider is a single LLM backend.
type Provider interface {
	Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// Router picks a provider by model name prefix.
type Router struct {
	routes []route
}

type route struct {
	prefix   string
	provider Provider
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Handle sends models starting with prefix to p. Earlier registrations win.
func (r *Router) Handle(prefix string, p Provider) *Router {
	r.routes = append(r.routes, route{prefix: prefix, provider: p})
	return r
}

func (r *Router) Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(req.Model, rt.prefix) {
			return rt.provider.Generate(ctx, req)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
}

// systemPrompt instructs a provider to answer with schema-conforming JSON.
func systemPrompt(schema json.RawMessage) string {
	return "Respond with exactly one JSON document and nothing else. " +
		"The document must validate against this JSON Schema:\n" + string(schema)
}

// isRetryableMessage classifies errors that carry no structured status.
func isRetryableMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate_limit", "rate limit", "overloaded", "429", "500", "502", "503", "504", "529", "timeout", "unavailable", "resource_exhausted", "deadline"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientFailure, err)
}
