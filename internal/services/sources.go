package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"signalflow/backend/pkg/models"
)

// SourceAdapter turns one external system's payload into a NormalizedPayload.
type SourceAdapter interface {
	Source() string
	CanHandle(source string) bool
	Normalize(payload json.RawMessage) (models.NormalizedPayload, error)
}

// SourceRegistry resolves adapters by source name. It is built once at
// startup and read-only afterwards.
type SourceRegistry struct {
	adapters []SourceAdapter
}

// NewSourceRegistry creates a registry over adapters; later adapters never
// shadow earlier ones.
func NewSourceRegistry(adapters ...SourceAdapter) *SourceRegistry {
	return &SourceRegistry{adapters: adapters}
}

// DefaultSources returns the registry of built-in adapters.
func DefaultSources() *SourceRegistry {
	return NewSourceRegistry(
		crmAdapter{},
		analyticsAdapter{},
		manualAdapter{},
		webhookAdapter{},
	)
}

// Resolve finds the adapter for source.
func (r *SourceRegistry) Resolve(source string) (SourceAdapter, error) {
	for _, a := range r.adapters {
		if a.CanHandle(source) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
}

// Sources lists the registered source names.
func (r *SourceRegistry) Sources() []string {
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Source())
	}
	sort.Strings(out)
	return out
}

// parseObject rejects anything that is not a non-empty JSON object.
func parseObject(payload json.RawMessage) (gjson.Result, map[string]interface{}, error) {
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return gjson.Result{}, nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload)
	}
	obj, _ := doc.Value().(map[string]interface{})
	if len(obj) == 0 {
		return gjson.Result{}, nil, fmt.Errorf("%w: empty object", ErrInvalidPayload)
	}
	return doc, obj, nil
}

func attributesOf(doc gjson.Result, path string, fallback map[string]interface{}) map[string]interface{} {
	if v := doc.Get(path); v.IsObject() {
		if m, ok := v.Value().(map[string]interface{}); ok {
			return m
		}
	}
	return fallback
}

// crmAdapter handles CRM change notifications:
// {"event":"deal.updated","object":{"type":"deal","id":"42","properties":{...}}}.
// Flat bodies such as {"dealStage":"closed_won"} become a "crm.change" event
// whose attributes are the body itself.
type crmAdapter struct{}

func (crmAdapter) Source() string               { return "crm" }
func (crmAdapter) CanHandle(source string) bool { return source == "crm" }

func (crmAdapter) Normalize(payload json.RawMessage) (models.NormalizedPayload, error) {
	doc, obj, err := parseObject(payload)
	if err != nil {
		return models.NormalizedPayload{}, err
	}
	event := doc.Get("event").String()
	if event == "" {
		event = "crm.change"
	}
	return models.NormalizedPayload{
		EventType:  event,
		EntityType: doc.Get("object.type").String(),
		EntityID:   doc.Get("object.id").String(),
		Attributes: attributesOf(doc, "object.properties", obj),
	}, nil
}

// analyticsAdapter handles metric threshold alerts:
// {"metric":"mrr","value":1200,"threshold":1000,"direction":"above"}.
type analyticsAdapter struct{}

func (analyticsAdapter) Source() string               { return "analytics" }
func (analyticsAdapter) CanHandle(source string) bool { return source == "analytics" }

func (analyticsAdapter) Normalize(payload json.RawMessage) (models.NormalizedPayload, error) {
	doc, obj, err := parseObject(payload)
	if err != nil {
		return models.NormalizedPayload{}, err
	}
	metric := doc.Get("metric").String()
	direction := doc.Get("direction").String()
	if direction == "" {
		direction = "crossed"
	}
	return models.NormalizedPayload{
		EventType:  "metric." + direction,
		EntityType: "metric",
		EntityID:   metric,
		Attributes: obj,
	}, nil
}

// manualAdapter handles operator-entered triggers. Everything except the
// optional event_type is an attribute.
type manualAdapter struct{}

func (manualAdapter) Source() string               { return "manual" }
func (manualAdapter) CanHandle(source string) bool { return source == "manual" }

func (manualAdapter) Normalize(payload json.RawMessage) (models.NormalizedPayload, error) {
	doc, obj, err := parseObject(payload)
	if err != nil {
		return models.NormalizedPayload{}, err
	}
	event := doc.Get("event_type").String()
	if event == "" {
		event = "manual.trigger"
	}
	attrs := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k != "event_type" {
			attrs[k] = v
		}
	}
	return models.NormalizedPayload{EventType: event, Attributes: attrs}, nil
}

// webhookAdapter accepts generic "webhook:<name>" sources whose body already
// follows {"type":..., "data":{...}}.
type webhookAdapter struct{}

func (webhookAdapter) Source() string { return "webhook" }

func (webhookAdapter) CanHandle(source string) bool {
	return source == "webhook" || (strings.HasPrefix(source, "webhook:") && len(source) > len("webhook:"))
}

func (webhookAdapter) Normalize(payload json.RawMessage) (models.NormalizedPayload, error) {
	doc, obj, err := parseObject(payload)
	if err != nil {
		return models.NormalizedPayload{}, err
	}
	event := doc.Get("type").String()
	if event == "" {
		event = "webhook.received"
	}
	return models.NormalizedPayload{
		EventType:  event,
		EntityType: doc.Get("data.object").String(),
		EntityID:   doc.Get("data.id").String(),
		Attributes: attributesOf(doc, "data", obj),
	}, nil
}
