package handler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/response"
)

const redisPingTimeout = time.Second

// AuthStatus reports whether the runner currently holds a usable token.
type AuthStatus interface {
	IsAuthenticated() bool
}

// LiveSessions counts sessions that have not ended.
type LiveSessions interface {
	Live() int
}

// SystemHandler reports runner health and Go runtime figures.
type SystemHandler struct {
	rdb       *redis.Client
	auth      AuthStatus
	sessions  LiveSessions
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. rdb may be nil when the draft
// cache is disabled.
func NewSystemHandler(rdb *redis.Client, auth AuthStatus, sessions LiveSessions, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		auth:      auth,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Authenticated bool   `json:"authenticated"`
	LiveSessions  int    `json:"live_sessions"`
	DraftCache    string `json:"draft_cache"`

	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	GoVersion   string `json:"go_version"`
}

// Health godoc
// GET /health
// Always 200 while the process serves; a failing draft cache only degrades.
func (h *SystemHandler) Health(c *gin.Context) {
	report := healthReport{
		Status:        "ok",
		Uptime:        formatDuration(time.Since(h.startTime)),
		Authenticated: h.auth.IsAuthenticated(),
		LiveSessions:  h.sessions.Live(),
		DraftCache:    "disabled",
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc
	report.AppRSSBytes, _ = readProcessRSS()

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), redisPingTimeout)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Draft cache unreachable")
			report.DraftCache = "unreachable"
			report.Status = "degraded"
		} else {
			report.DraftCache = "ok"
		}
	}

	response.Success(c, http.StatusOK, report)
}

// ---------- /proc Readers ----------

// readProcessRSS reads VmRSS from /proc/self/status. Zero off Linux.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			// Format: "VmRSS:     12345 kB"
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, fmt.Errorf("unexpected VmRSS line")
			}
			val, _ := strconv.ParseUint(fields[1], 10, 64)
			return val * 1024, nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found")
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
