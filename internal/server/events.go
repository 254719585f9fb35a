package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// jobEvents streams a job's progress as server-sent events until it finishes or the client goes away.
func (s *Server) jobEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	updates, cancel, err := s.Jobs.Subscribe(c.UserContext(), id)
	if err != nil {
		return err
	}

	log := requestLog(c, s.Log).WithField("job_id", id)
	heartbeat := s.Heartbeat

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}

				data, err := json.Marshal(u)
				if err != nil {
					log.WithError(err).Error("marshalling update")
					return
				}

				fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
				if err := w.Flush(); err != nil {
					log.Debug("client went away")
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					log.Debug("client went away")
					return
				}
			}
		}
	}))

	return nil
}
