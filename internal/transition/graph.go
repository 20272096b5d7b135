package transition

import (
	"fmt"
	"slices"

	"github.com/mmeshcher/outlet-console/internal/model"
)

// allowedTransitions задаёт граф переходов. Конечные статусы и UNKNOWN переходов не имеют.
var allowedTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:   {model.OrderStatusPreparing, model.OrderStatusDelivered, model.OrderStatusCancelled},
	model.OrderStatusPreparing: {model.OrderStatusCompleted},
}

// CanTransition сообщает, достижим ли статус next из current за один шаг.
func CanTransition(current, next model.OrderStatus) bool {
	return slices.Contains(allowedTransitions[current], next)
}

// Next возвращает статусы, достижимые из current за один шаг.
func Next(current model.OrderStatus) []model.OrderStatus {
	return slices.Clone(allowedTransitions[current])
}

// ValidateTransition возвращает ошибку model.ErrInvalidTransition, если переход не разрешён.
func ValidateTransition(current, next model.OrderStatus) error {
	if current.Terminal() {
		return fmt.Errorf("%w: %s is terminal", model.ErrInvalidTransition, current)
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: cannot transition from %s to %s", model.ErrInvalidTransition, current, next)
	}
	return nil
}

// Policy сопоставляет целевому статусу право, необходимое для перехода.
type Policy map[model.OrderStatus]model.Capability

// DefaultPolicy — права по умолчанию: кухня готовит, выдача доставляет, отмена отдельно.
func DefaultPolicy() Policy {
	return Policy{
		model.OrderStatusPreparing: model.CapabilityOrdersKitchen,
		model.OrderStatusCompleted: model.CapabilityOrdersKitchen,
		model.OrderStatusDelivered: model.CapabilityOrdersFulfil,
		model.OrderStatusCancelled: model.CapabilityOrdersCancel,
	}
}

// Required возвращает право для перехода в статус target.
func (p Policy) Required(target model.OrderStatus) model.Capability {
	return p[target]
}
