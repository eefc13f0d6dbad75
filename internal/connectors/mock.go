package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// MockSystemsConnector имитирует внешние системы для стенда и демо.
// Отвечает JSON-объектом с метриками расхода, как настоящий коннектор.
type MockSystemsConnector struct{}

func (c *MockSystemsConnector) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	// Имитируем задержку внешней системы 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == "unstable.service" {
		return nil, fmt.Errorf("service internal error")
	}

	switch action {
	case "quarantine":
		return c.respond(map[string]any{
			"status":    "quarantined",
			"ops_count": 1,
		})
	case "reindex":
		return c.respond(map[string]any{
			"status":          "reindexed",
			"ops_count":       42,
			"cost_cents_used": 3,
		})
	case "deploy.release":
		return c.respond(map[string]any{
			"status":          "deployed",
			"ops_count":       7,
			"cost_cents_used": 12,
		})
	case "inbox.archive":
		return c.respond(map[string]any{
			"status":    "archived",
			"ops_count": 1,
		})
	default:
		return nil, fmt.Errorf("action %s not supported by connector", action)
	}
}

func (c *MockSystemsConnector) respond(body map[string]any) ([]byte, error) {
	return json.Marshal(body)
}
