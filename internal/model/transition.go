package model

import "time"

// StatusMutation — запрос на смену статуса, отправляемый серверу.
type StatusMutation struct {
	// RequestID передаётся серверу как ключ идемпотентности.
	RequestID string
	OrderID   string
	OutletID  string
	Status    OrderStatus
	ItemIDs   []string
}

// TransitionRecord — запись журнала о попытке смены статуса.
type TransitionRecord struct {
	RequestID  string
	ActorID    string
	OutletID   string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ItemIDs    []string

	// Outcome равен "ok" либо имени вида ошибки.
	Outcome   string
	Message   string
	CreatedAt time.Time
}
