package health

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/render"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
)

type (
	// RelayStats exposes the live counters of the relay.
	RelayStats interface {
		SessionCount() int
		RoomCount() int
	}

	Response struct {
		Status     string  `json:"status"`
		Uptime     string  `json:"uptime"`
		Sessions   int     `json:"sessions"`
		Rooms      int     `json:"rooms"`
		Goroutines int     `json:"goroutines"`
		RSSBytes   uint64  `json:"rssBytes,omitempty"`
		CPUPercent float64 `json:"cpuPercent,omitempty"`
	}
)

// HandleHealth reports liveness plus process and relay counters. Process
// metrics are best effort and omitted when the platform can not provide them.
func HandleHealth(stats RelayStats, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Response{
			Status:     "ok",
			Uptime:     time.Since(started).Round(time.Second).String(),
			Sessions:   stats.SessionCount(),
			Rooms:      stats.RoomCount(),
			Goroutines: runtime.NumGoroutine(),
		}

		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			logrus.WithField("error", err).Debug("Process metrics unavailable")
			render.JSON(w, r, resp)
			return
		}
		if mem, err := p.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
		render.JSON(w, r, resp)
	}
}
