package guard

/*
Файл registry.go — закрытый реестр действий. Вместо динамической
диспетчеризации по строке имени у каждого действия есть явная запись:
список обязательных параметров и хендлер. Неизвестное действие — это
отдельная ошибка вызова, а не "молча ничего не совпало".
*/

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentgate/internal/domain"
)

// ActionHandler исполняет действие во внешней системе. Payload — это
// сериализованный ExecutionPlan; ответ — JSON-объект результата.
type ActionHandler interface {
	Call(ctx context.Context, action string, payload []byte) ([]byte, error)
}

// ActionSpec описывает одно зарегистрированное действие.
type ActionSpec struct {
	// RequiredParams — обязательные поля в порядке объявления.
	// Порядок важен: первая недостающая называется в ошибке, и сообщение
	// должно быть стабильным между запусками.
	RequiredParams []string
	Handler        ActionHandler
}

// Registry — неизменяемая после сборки таблица действий.
// Регистрация происходит один раз при старте процесса, до приема
// трафика, поэтому блокировок не требуется.
type Registry struct {
	actions map[string]ActionSpec
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionSpec)}
}

// Register добавляет действие. Повторная регистрация имени — ошибка
// конфигурации, падаем сразу при старте.
func (r *Registry) Register(action string, spec ActionSpec) error {
	if action == "" {
		return fmt.Errorf("action name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("action %s: handler is required", action)
	}
	if _, dup := r.actions[action]; dup {
		return fmt.Errorf("action %s already registered", action)
	}
	r.actions[action] = spec
	return nil
}

// Spec возвращает запись действия.
func (r *Registry) Spec(action string) (ActionSpec, error) {
	spec, ok := r.actions[action]
	if !ok {
		return ActionSpec{}, fmt.Errorf("%w: %s", domain.ErrUnknownAction, action)
	}
	return spec, nil
}

// Call делает реестр маршрутизатором: сам реестр — это ActionHandler,
// который находит запись и передает вызов ее хендлеру.
func (r *Registry) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	spec, err := r.Spec(action)
	if err != nil {
		return nil, err
	}
	return spec.Handler.Call(ctx, action, payload)
}

// Actions — список зарегистрированных имен (для диагностики).
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	return out
}
