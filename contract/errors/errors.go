package errors

// Error codes for the call bus contracts. Keep stable; used across adapters, codecs and the bundle.
const (
	ErrCodeNoRoute             = "callbus.no_route"
	ErrCodeServiceExists       = "callbus.service_exists"
	ErrCodeQueueStopped        = "callbus.queue_stopped"
	ErrCodeListenerRunning     = "callbus.listener_running"
	ErrCodeVetoed              = "callbus.vetoed"
	ErrCodeMethodNotFound      = "callbus.method_not_found"
	ErrCodeArgumentMismatch    = "callbus.argument_mismatch"
	ErrCodeInvocationFailed    = "callbus.invocation_failed"
	ErrCodeCallFailed          = "callbus.call_failed"
	ErrCodeCallbackExpired     = "callbus.callback_expired"
	ErrCodeDuplicateCall       = "callbus.duplicate_call"
	ErrCodeTransformFailed     = "callbus.transform_failed"
	ErrCodeNoParser            = "callbus.no_parser"
	ErrCodeSerializationFailed = "callbus.serialization_failed"
	ErrCodeSendFailed          = "callbus.send_failed"
	ErrCodeHandlerTypeMismatch = "callbus.handler_type_mismatch"
	ErrCodeRegistryUnavailable = "callbus.registry_unavailable"
	ErrCodeInvalidConfig       = "callbus.invalid_config"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrNoRoute             = Code(ErrCodeNoRoute)
	ErrServiceExists       = Code(ErrCodeServiceExists)
	ErrQueueStopped        = Code(ErrCodeQueueStopped)
	ErrListenerRunning     = Code(ErrCodeListenerRunning)
	ErrVetoed              = Code(ErrCodeVetoed)
	ErrMethodNotFound      = Code(ErrCodeMethodNotFound)
	ErrArgumentMismatch    = Code(ErrCodeArgumentMismatch)
	ErrInvocationFailed    = Code(ErrCodeInvocationFailed)
	ErrCallFailed          = Code(ErrCodeCallFailed)
	ErrCallbackExpired     = Code(ErrCodeCallbackExpired)
	ErrDuplicateCall       = Code(ErrCodeDuplicateCall)
	ErrTransformFailed     = Code(ErrCodeTransformFailed)
	ErrNoParser            = Code(ErrCodeNoParser)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrSendFailed          = Code(ErrCodeSendFailed)
	ErrHandlerTypeMismatch = Code(ErrCodeHandlerTypeMismatch)
	ErrRegistryUnavailable = Code(ErrCodeRegistryUnavailable)
	ErrInvalidConfig       = Code(ErrCodeInvalidConfig)
)
