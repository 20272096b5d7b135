package model

import "time"

// Capability — имя права доступа сотрудника.
type Capability string

const (
	CapabilityOrdersView    Capability = "orders.view"
	CapabilityOrdersKitchen Capability = "orders.kitchen"
	CapabilityOrdersFulfil  Capability = "orders.fulfil"
	CapabilityOrdersCancel  Capability = "orders.cancel"
	CapabilityBilling       Capability = "billing"
	CapabilityInventory     Capability = "inventory"
	CapabilityReports       Capability = "reports"
)

// Identity описывает аутентифицированного сотрудника.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session — неизменяемый снимок сессии сотрудника.
// Новое состояние всегда публикуется целиком, новым значением.
type Session struct {
	Identity      Identity
	Token         string
	Capabilities  map[Capability]bool
	Version       uint64
	EstablishedAt time.Time
}

// Granted сообщает, выдано ли право. Неизвестные права считаются не выданными.
func (s *Session) Granted(tag Capability) bool {
	if s == nil {
		return false
	}
	return s.Capabilities[tag]
}

// Credentials — учётные данные для входа.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Grant — ответ сервиса аутентификации: сотрудник и его права.
type Grant struct {
	Identity     Identity
	Token        string
	Capabilities map[Capability]bool
}
