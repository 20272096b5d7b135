package model

import "errors"

var (
	// ErrNotFound возвращается, если заказ не найден ни в кэше, ни на сервере.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition возвращается, если целевой статус недостижим из текущего.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden возвращается, если у сотрудника нет нужного права.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized возвращается, если сервер не принял учётные данные.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyInProgress возвращается при повторном запросе смены статуса до завершения первого.
	ErrAlreadyInProgress = errors.New("transition already in progress")
	// ErrUnknownItem возвращается, если позиция не принадлежит заказу.
	ErrUnknownItem = errors.New("unknown item")
	// ErrServerError — сетевая ошибка, таймаут или ответ 5xx.
	ErrServerError = errors.New("server error")
	// ErrMalformedResponse возвращается, если ответ сервера не удалось разобрать.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNoSession возвращается, если активной сессии нет.
	ErrNoSession = errors.New("no session")
	// ErrSuperseded возвращается загрузке, ответ которой устарел из-за более нового запроса.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Kind возвращает имя вида ошибки для сообщений пользователю.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrAlreadyInProgress):
		return "AlreadyInProgress"
	case errors.Is(err, ErrUnknownItem):
		return "UnknownItem"
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, ErrNoSession):
		return "NoSession"
	case errors.Is(err, ErrSuperseded):
		return "Superseded"
	default:
		return "ServerError"
	}
}
