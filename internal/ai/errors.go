package ai

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

// ErrorKind: класс ошибки реплики. Определяет HTTP-статус ответа реле.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindConfiguration
	KindUpload
	KindThreadCreate
	KindMessagePost
	KindRunStart
	KindStatusCheck
	KindUnsupportedAction
	KindRunFailed
	KindTimeout
	KindRunIncomplete
	KindExtraction
	KindGeneration
	KindNoImageReturned
	KindCompletion
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown error",
	KindValidation:        "validation error",
	KindConfiguration:     "configuration error",
	KindUpload:            "upload failed",
	KindThreadCreate:      "create thread failed",
	KindMessagePost:       "post message failed",
	KindRunStart:          "start run failed",
	KindStatusCheck:       "run status check failed",
	KindUnsupportedAction: "run requires an unsupported action",
	KindRunFailed:         "run failed",
	KindTimeout:           "assistant run did not complete in time",
	KindRunIncomplete:     "assistant run did not complete",
	KindExtraction:        "extract assistant response failed",
	KindGeneration:        "image generation failed",
	KindNoImageReturned:   "no image URL returned",
	KindCompletion:        "chat completion failed",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Error: ошибка реплики с классом и, если известен, статусом удалённой стороны.
type Error struct {
	Kind   ErrorKind
	Status int    // HTTP-статус удалённого API, 0 если неизвестен
	Msg    string // сообщение для клиента; для RunFailed: текст от удалённой стороны
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus возвращает статус, с которым реле отдаёт ошибку клиенту.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindUnsupportedAction:
		return http.StatusBadRequest
	case KindConfiguration, KindRunFailed, KindTimeout, KindRunIncomplete, KindNoImageReturned:
		return http.StatusInternalServerError
	}
	if e.Status >= 400 && e.Status < 600 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// KindOf извлекает класс ошибки из цепочки.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// newError оборачивает ошибку вызова удалённого API, вытаскивая статус и сообщение *openai.Error.
func newError(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e.Status = apiErr.StatusCode
		if apiErr.Message != "" {
			e.Msg = fmt.Sprintf("%s: %s", kind, apiErr.Message)
		}
	}
	return e
}

// Validation создаёт ошибку валидации входа.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Configuration создаёт ошибку конфигурации сервера.
func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Msg: msg}
}
