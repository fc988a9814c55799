package printer

import (
	"errors"
	"fmt"

	"github.com/thereceipt/escpos-bridge/internal/transport"
)

// ErrorKind is the closed set of failure classifications
type ErrorKind string

const (
	KindInvalidArgument   ErrorKind = "invalid-argument"
	KindConnectionRefused ErrorKind = "connection-refused"
	KindTimeout           ErrorKind = "timeout"
	KindIOError           ErrorKind = "io-error"
	KindImageDecode       ErrorKind = "image-decode-error"
	KindNoPrinterFound    ErrorKind = "no-printer-found"
	KindUnknown           ErrorKind = "unknown"
)

// User-visible messages. Downstream UIs match on these strings.
const (
	msgConnected    = "Conectado vía TCP nativo (como Loyverse)"
	msgPrinted      = "Impresión TCP nativa exitosa"
	msgDrawerOpened = "Caja abierta exitosamente"
	msgFound        = "Impresora encontrada en %s:%d"
	msgNotFound     = "No se encontró ninguna impresora en el rango %s.%d-%d"

	prefixConnect = "Error de conexión: "
	prefixPrint   = "Error de impresión: "
	prefixDrawer  = "Error al abrir caja: "
)

// Result is the single completion value of an operation. Either Message
// (and for autodetect IP and Port) or ErrorKind and Error are populated.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Port      int       `json:"port,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

func failed(kind ErrorKind, detail string) Result {
	return Result{Success: false, ErrorKind: kind, Error: detail}
}

// fromTransport maps a transport failure to a Result. Refused and timeout
// keep the endpoint-naming detail; other failures carry prefix plus the
// underlying cause.
func fromTransport(err error, prefix string) Result {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return failed(KindUnknown, prefix+err.Error())
	}

	switch terr.Kind {
	case transport.KindConnectionRefused:
		return failed(KindConnectionRefused, terr.Detail)
	case transport.KindTimeout:
		return failed(KindTimeout, terr.Detail)
	case transport.KindInvalidArgument:
		return failed(KindInvalidArgument, terr.Detail)
	case transport.KindIOError:
		return failed(KindIOError, prefix+causeOf(terr))
	default:
		return failed(KindUnknown, prefix+causeOf(terr))
	}
}

func causeOf(terr *transport.Error) string {
	if terr.Err != nil {
		return terr.Err.Error()
	}
	return terr.Detail
}

// ArgumentError is a synchronous rejection of malformed operation arguments
type ArgumentError struct {
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return e.Message
}

// Kind returns KindInvalidArgument
func (e *ArgumentError) Kind() ErrorKind {
	return KindInvalidArgument
}

func rejectf(field, format string, args ...interface{}) *ArgumentError {
	return &ArgumentError{Field: field, Message: fmt.Sprintf(format, args...)}
}
