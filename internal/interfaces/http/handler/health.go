package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/messaging"
	"github.com/mfshop/storefront/internal/interfaces/http/dto"
)

// MessengerStatus is the read side of a messenger
type MessengerStatus interface {
	Counterpart() shared.AppRole
	State() messaging.State
	TargetOrigin() string
	Stats() messaging.Stats
}

// OriginLister lists the trusted origins
type OriginLister interface {
	Origins() []string
}

// HealthHandler reports the application's sync status. The host polls it on
// its remotes.
type HealthHandler struct {
	BaseHandler
	app        string
	role       shared.AppRole
	embedded   bool
	origins    OriginLister
	messengers []MessengerStatus
	startTime  time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(app string, role shared.AppRole, embedded bool, origins OriginLister, messengers ...MessengerStatus) *HealthHandler {
	return &HealthHandler{
		app:        app,
		role:       role,
		embedded:   embedded,
		origins:    origins,
		messengers: messengers,
		startTime:  time.Now(),
	}
}

// MessengerHealth is the status of one messenger
type MessengerHealth struct {
	Counterpart shared.AppRole  `json:"counterpart"`
	State       string          `json:"state"`
	Target      string          `json:"target"`
	Stats       messaging.Stats `json:"stats"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status     string            `json:"status"`
	App        string            `json:"app"`
	Role       shared.AppRole    `json:"role"`
	Embedded   bool              `json:"embedded"`
	Origins    []string          `json:"origins"`
	Messengers []MessengerHealth `json:"messengers"`
	GoVersion  string            `json:"go_version"`
	Uptime     string            `json:"uptime"`
}

// Get reports health. The status is "closing" with 503 once any messenger
// has been closed.
func (h *HealthHandler) Get(c *gin.Context) {
	resp := HealthResponse{
		Status:     "ok",
		App:        h.app,
		Role:       h.role,
		Embedded:   h.embedded,
		Origins:    h.origins.Origins(),
		Messengers: make([]MessengerHealth, 0, len(h.messengers)),
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}

	for _, m := range h.messengers {
		state := m.State()
		if state == messaging.StateClosed {
			resp.Status = "closing"
		}
		resp.Messengers = append(resp.Messengers, MessengerHealth{
			Counterpart: m.Counterpart(),
			State:       state.String(),
			Target:      m.TargetOrigin(),
			Stats:       m.Stats(),
		})
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}
