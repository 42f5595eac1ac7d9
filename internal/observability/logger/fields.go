package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard fields: HTTP.

// RequestID creates a field for the request ID.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method creates a field for the HTTP method.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path creates a field for the request path.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status creates a field for the HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration creates a field for the request duration.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP creates a field for the client address.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// Standard fields: domain.

// UserID creates a field for the advocate's user id.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// TokenID creates a field for a login token id.
func TokenID(v string) zap.Field {
	return zap.String("token_id", v)
}

// TicketID creates a field for a ticket document id.
func TicketID(v string) zap.Field {
	return zap.String("ticket_id", v)
}

// DB creates a field for a database name.
func DB(v string) zap.Field {
	return zap.String("db", v)
}

// View creates a field for a view name.
func View(v string) zap.Field {
	return zap.String("view", v)
}

// Standard fields: structure.

// Layer identifies the architectural layer emitting the log
// (controller, service, store, sync).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Op identifies the operation emitting the log.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err creates a field for an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
