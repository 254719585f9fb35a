package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIdHeader = "X-Request-ID"

// requestLogger logs every request with its latency, the level follows the response status.
func requestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestId := c.Get(requestIdHeader)
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Locals("requestid", requestId)
		c.Set(requestIdHeader, requestId)

		err := c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id":  requestId,
			"http_method": c.Method(),
			"uri":         c.OriginalURL(),
			"status_code": c.Response().StatusCode(),
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.IP(),
		})

		// Handler errors are rendered by the error handler after this, so the status is not final yet.
		if err != nil {
			entry.WithError(err).Error("request failed")
			return err
		}

		switch code := c.Response().StatusCode(); {
		case code >= 500:
			entry.Error("request completed with server error")
		case code >= 400:
			entry.Warn("request completed with client error")
		default:
			entry.Info("request completed")
		}
		return nil
	}
}

func requestLog(c *fiber.Ctx, log logrus.FieldLogger) logrus.FieldLogger {
	if id, ok := c.Locals("requestid").(string); ok {
		return log.WithField("request_id", id)
	}
	return log
}
