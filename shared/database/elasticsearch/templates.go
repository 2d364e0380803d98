package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// Index template families written by the log pipeline
const (
	TemplateSecurityEvents = "security-events"
	TemplateAuditLogs      = "audit-logs"
	TemplateSystemLogs     = "system-logs"
	TemplateAlerts         = "alerts"
)

// eventMappings is shared by the event-bearing templates. Only the fields
// used for filtering and aggregation are mapped explicitly.
var eventMappings = map[string]interface{}{
	"dynamic": true,
	"properties": map[string]interface{}{
		"@timestamp":     map[string]interface{}{"type": "date"},
		"timestamp":      map[string]interface{}{"type": "date"},
		"eventId":        map[string]interface{}{"type": "keyword"},
		"userId":         map[string]interface{}{"type": "keyword"},
		"sessionId":      map[string]interface{}{"type": "keyword"},
		"organizationId": map[string]interface{}{"type": "keyword"},
		"category":       map[string]interface{}{"type": "keyword"},
		"action":         map[string]interface{}{"type": "keyword"},
		"severity":       map[string]interface{}{"type": "keyword"},
		"ipAddress":      map[string]interface{}{"type": "ip"},
		"riskScore":      map[string]interface{}{"type": "integer"},
		"correlationId":  map[string]interface{}{"type": "keyword"},
		"sourceSystem":   map[string]interface{}{"type": "keyword"},
		"details":        map[string]interface{}{"type": "object", "enabled": false},
		"compliance": map[string]interface{}{
			"properties": map[string]interface{}{
				"retention":      map[string]interface{}{"type": "integer"},
				"classification": map[string]interface{}{"type": "keyword"},
				"encrypted":      map[string]interface{}{"type": "boolean"},
			},
		},
	},
}

var alertMappings = map[string]interface{}{
	"dynamic": true,
	"properties": map[string]interface{}{
		"@timestamp":   map[string]interface{}{"type": "date"},
		"createdAt":    map[string]interface{}{"type": "date"},
		"alertId":      map[string]interface{}{"type": "keyword"},
		"ruleId":       map[string]interface{}{"type": "keyword"},
		"severity":     map[string]interface{}{"type": "keyword"},
		"category":     map[string]interface{}{"type": "keyword"},
		"subject":      map[string]interface{}{"type": "keyword"},
		"riskScore":    map[string]interface{}{"type": "integer"},
		"acknowledged": map[string]interface{}{"type": "boolean"},
		"events":       map[string]interface{}{"type": "object", "enabled": false},
	},
}

// TemplateManager installs the index templates used by the pipeline
type TemplateManager struct {
	client *Client
	logger *zap.Logger
}

// NewTemplateManager creates a new template manager
func NewTemplateManager(client *Client, logger *zap.Logger) *TemplateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateManager{client: client, logger: logger}
}

// Templates returns the template bodies keyed by template name
func (tm *TemplateManager) Templates() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, 4)
	for _, name := range []string{TemplateSecurityEvents, TemplateAuditLogs, TemplateSystemLogs} {
		out[name] = tm.template(name, eventMappings)
	}
	out[TemplateAlerts] = tm.template(TemplateAlerts, alertMappings)
	return out
}

func (tm *TemplateManager) template(name string, mappings map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"index_patterns": []string{tm.client.config.GetIndexPattern(name)},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 1,
			},
			"mappings": mappings,
		},
	}
}

// EnsureTemplates creates or updates every template
func (tm *TemplateManager) EnsureTemplates(ctx context.Context) error {
	for name, body := range tm.Templates() {
		if err := tm.putIndexTemplate(ctx, tm.client.config.IndexPrefix+name, body); err != nil {
			return fmt.Errorf("failed to create index template %s: %w", name, err)
		}
		tm.logger.Info("Index template created", zap.String("template", name))
	}
	return nil
}

func (tm *TemplateManager) putIndexTemplate(ctx context.Context, name string, template map[string]interface{}) error {
	templateBytes, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to serialize index template: %w", err)
	}

	return tm.client.execute(func() error {
		req := esapi.IndicesPutIndexTemplateRequest{
			Name: name,
			Body: bytes.NewReader(templateBytes),
		}

		res, err := req.Do(ctx, tm.client.client)
		if err != nil {
			return fmt.Errorf("failed to create index template: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return responseError("create index template", res)
		}
		return nil
	})
}
