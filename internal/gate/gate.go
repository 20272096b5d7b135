// Package gate проверяет права сотрудника перед выполнением действия.
package gate

import (
	"fmt"

	"github.com/mmeshcher/outlet-console/internal/model"
)

// Presentation подсказывает интерфейсу, как показать недоступное действие.
// Выбор делает вызывающий код, Gate лишь возвращает его в DeniedResult.
type Presentation int

const (
	// PresentationDisabled — действие видно, но недоступно.
	PresentationDisabled Presentation = iota
	// PresentationHidden — действие скрыто или заменено сообщением.
	PresentationHidden
)

// String возвращает имя варианта отображения.
func (p Presentation) String() string {
	switch p {
	case PresentationHidden:
		return "hidden"
	default:
		return "disabled"
	}
}

// CapabilityChecker отвечает на вопрос, выдано ли право.
type CapabilityChecker interface {
	HasCapability(tag model.Capability) bool
}

// DeniedResult описывает отказ в доступе.
type DeniedResult struct {
	Capability   model.Capability
	Reason       string
	Presentation Presentation
}

// Error реализует интерфейс error.
func (d *DeniedResult) Error() string {
	return d.Reason
}

// Unwrap позволяет сравнивать отказ с model.ErrForbidden через errors.Is.
func (d *DeniedResult) Unwrap() error {
	return model.ErrForbidden
}

// Gate — точка принятия решения о доступе.
type Gate struct {
	checker CapabilityChecker
}

// New создаёт Gate поверх источника прав.
func New(checker CapabilityChecker) *Gate {
	return &Gate{checker: checker}
}

// Check возвращает nil, если действие разрешено, иначе DeniedResult.
// Пустое право означает действие, доступное всем. Права перечитываются при каждом вызове.
func (g *Gate) Check(tag model.Capability, presentation Presentation) *DeniedResult {
	if tag == "" {
		return nil
	}

	if g.checker != nil && g.checker.HasCapability(tag) {
		return nil
	}

	return &DeniedResult{
		Capability:   tag,
		Reason:       fmt.Sprintf("capability %q is required for this action", tag),
		Presentation: presentation,
	}
}

// Authorize выполняет action, если право выдано. При отказе action не вызывается,
// а возвращается *DeniedResult.
func (g *Gate) Authorize(tag model.Capability, presentation Presentation, action func() error) error {
	if denied := g.Check(tag, presentation); denied != nil {
		return denied
	}
	return action()
}
