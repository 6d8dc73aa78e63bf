package notificator

import (
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/core-coin/hashrent/pkg/logger"
)

type EmailNotificator struct {
	logger *logger.Logger

	SMTPHost            string
	SMTPPort            int
	SMTPAlternativePort int
	SMTPUser            string
	SMTPPassword        string
	SMTPSender          string

	SMTPAuth smtp.Auth

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotificator(logger *logger.Logger, SMTPHost string, SMTPPort int, SMTPAlternativePort int, SMTPUser string, SMTPPassword string, SMTPSender string) *EmailNotificator {
	auth := smtp.PlainAuth(
		"",
		SMTPUser,
		SMTPPassword,
		SMTPHost,
	)

	return &EmailNotificator{
		logger:              logger,
		SMTPAuth:            auth,
		SMTPHost:            SMTPHost,
		SMTPPort:            SMTPPort,
		SMTPAlternativePort: SMTPAlternativePort,
		SMTPUser:            SMTPUser,
		SMTPPassword:        SMTPPassword,
		SMTPSender:          SMTPSender,
		sendMail:            smtp.SendMail,
	}
}

// SendNotification sends the mail on the primary port and retries once on the alternative port.
func (e *EmailNotificator) SendNotification(to, subject, message string) error {
	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.SMTPSender, // From address
		to,           // To address
		subject,      // Subject
		message,      // Email body
	))
	addr := fmt.Sprintf("%s:%s", e.SMTPHost, strconv.Itoa(e.SMTPPort))
	err := e.sendMail(addr, e.SMTPAuth, e.SMTPSender, []string{to}, msg)
	if err == nil {
		return nil
	}
	if e.SMTPAlternativePort == 0 || e.SMTPAlternativePort == e.SMTPPort {
		return fmt.Errorf("failed to send email: %w", err)
	}
	e.logger.Warn("Primary SMTP port failed, trying alternative", "port", e.SMTPPort, "error", err)
	altAddr := fmt.Sprintf("%s:%s", e.SMTPHost, strconv.Itoa(e.SMTPAlternativePort))
	if err := e.sendMail(altAddr, e.SMTPAuth, e.SMTPSender, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
