package notificator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

// ChatSender delivers a text message to a chat.
type ChatSender interface {
	SendNotification(ctx context.Context, chatID, message string) error
}

// MailSender delivers an email.
type MailSender interface {
	SendNotification(to, subject, body string) error
}

const queueSize = 256

type job struct {
	name string
	fn   func()
}

// Notificator implements models.NotificationService. Deliveries are queued
// and sent by a single worker so callers never wait on Telegram or SMTP.
type Notificator struct {
	logger *logger.Logger

	TelegramNotificator ChatSender
	EmailNotificator    MailSender
	alertChats          []string

	queue  chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewNotificator(logger *logger.Logger, telNotif ChatSender, emailNotif MailSender, alertChats []string) *Notificator {
	n := &Notificator{
		logger:              logger,
		TelegramNotificator: telNotif,
		EmailNotificator:    emailNotif,
		alertChats:          alertChats,
		queue:               make(chan job, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *Notificator) run() {
	defer n.wg.Done()
	for j := range n.queue {
		n.safeCall(j.fn, j.name)
	}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (n *Notificator) enqueue(name string, fn func()) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("Notificator closed, dropping notification", "kind", name)
		return
	}
	select {
	case n.queue <- job{name: name, fn: fn}:
	default:
		n.logger.Warn("Notification queue full, dropping notification", "kind", name)
	}
}

// Alert sends the alert to every configured operator chat.
func (n *Notificator) Alert(ctx context.Context, alert *models.Alert) {
	n.logger.Warn("Operator alert", "subject", alert.Subject, "message", alert.Message, "fields", alert.Fields)
	if n.TelegramNotificator == nil || len(n.alertChats) == 0 {
		return
	}
	message := FormatAlert(alert)
	for _, chatID := range n.alertChats {
		chatID := chatID
		n.enqueue("telegramAlert", func() {
			if err := n.TelegramNotificator.SendNotification(context.WithoutCancel(ctx), chatID, message); err != nil {
				n.logger.Error("Failed to send telegram alert", "chat_id", chatID, "error", err)
			}
		})
	}
}

// Receipt emails a user.
func (n *Notificator) Receipt(_ context.Context, receipt *models.Receipt) {
	if n.EmailNotificator == nil || receipt.Email == "" {
		return
	}
	n.enqueue("emailReceipt", func() {
		if err := n.EmailNotificator.SendNotification(receipt.Email, receipt.Subject, receipt.Body); err != nil {
			n.logger.Error("Failed to send email receipt", "email", receipt.Email, "error", err)
		}
	})
}

// Close stops accepting notifications and waits for queued ones to be sent.
func (n *Notificator) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// FormatAlert renders an alert as plain text with fields in key order.
func FormatAlert(alert *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s\n%s", alert.Subject, alert.Message)
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, alert.Fields[k])
	}
	return b.String()
}
