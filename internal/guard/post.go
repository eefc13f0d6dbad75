package guard

/*
Файл post.go — guardrails после исполнения. Действие уже выполнено во
внешней системе, откатывать нечего: нарушения только накапливаются и
возвращаются как предупреждения для мониторинга, результат отдается
без изменений.
*/

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xela07ax/agentgate/internal/domain"
)

// Метрики расхода ресурсов, которые хендлер может приложить к результату.
var metricFields = []string{"ops_count", "cost_cents_used"}

// ValidatePost разбирает сырой ответ хендлера и проверяет его форму.
//   - ответ обязан быть JSON-объектом, иначе result_shape;
//   - ops_count / cost_cents_used, если присутствуют, обязаны быть
//     неотрицательными целыми, иначе metric_invalid с именем поля.
//
// Возвращает разобранный результат как есть и список предупреждений.
func ValidatePost(raw []byte) (map[string]any, []domain.GuardrailViolation) {
	var violations []domain.GuardrailViolation

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil || result == nil {
		violations = append(violations, domain.GuardrailViolation{
			Kind:    domain.ViolationResultShape,
			Message: "handler result is not a key/value mapping",
		})
		return nil, violations
	}

	for _, field := range metricFields {
		val, present := result[field]
		if !present {
			continue
		}
		num, ok := val.(float64)
		if !ok || num != math.Trunc(num) || num < 0 {
			violations = append(violations, domain.GuardrailViolation{
				Kind:    domain.ViolationMetricInvalid,
				Message: fmt.Sprintf("metric %s must be a non-negative integer, got %v", field, val),
				Field:   field,
			})
		}
	}

	return result, violations
}
