package tasks

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

// EmailSender delivers the enrollment and operator emails.
type EmailSender interface {
	Configured() bool
	SendPaymentConfirmation(c *models.Customer) error
	SendWelcome(c *models.Customer) error
	SendSummary(to string, report services.SummaryReport) error
}

// WhatsappSender delivers WhatsApp text messages.
type WhatsappSender interface {
	Configured() bool
	SendMessage(ctx context.Context, chatID, text string) error
}

// Env is what task handlers may use.
type Env struct {
	DB            *gorm.DB
	Email         EmailSender
	Whatsapp      WhatsappSender
	Course        config.Course
	OperatorEmail string
	Metrics       *metrics.EnrollmentMetrics
}

func (e *Env) countNotification(channel, result string) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// TaskHandler is the function signature for a task handler
// It returns a result map that is stored in the task history
type TaskHandler func(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error)

// Registry stores the mapping of task names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]TaskHandler)}
}

// GlobalRegistry is the default global registry
var GlobalRegistry = NewRegistry()

// Register adds a handler for a task name
func (r *Registry) Register(name string, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Get retrieves a handler for a task name
func (r *Registry) Get(name string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}
