package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/go-mail/mail/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/calendar"
	"credit-billing/internal/model"
)

// Notifier tells statement owners about billing events. Calls must not block the caller.
type Notifier interface {
	StatementIssued(ctx context.Context, st model.Statement, minimumPayment int64)
	PenaltyPosted(ctx context.Context, userID uuid.UUID, source model.Statement, amount int64)
}

type NopNotifier struct{}

func (NopNotifier) StatementIssued(context.Context, model.Statement, int64)           {}
func (NopNotifier) PenaltyPosted(context.Context, uuid.UUID, model.Statement, int64) {}

type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	From               string
	Enabled            bool
	InsecureSkipVerify bool
}

type mailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailSender delivers notices over SMTP.
type EmailSender struct {
	dialer  mailDialer
	users   UserDirectory
	from    string
	enabled bool
	timeout time.Duration
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewEmailSender(cfg SMTPConfig, users UserDirectory, logger *logrus.Logger) *EmailSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	d.Timeout = 10 * time.Second
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &EmailSender{
		dialer:  d,
		users:   users,
		from:    from,
		enabled: cfg.Enabled,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

func (es *EmailSender) StatementIssued(ctx context.Context, st model.Statement, minimumPayment int64) {
	due := "-"
	if st.DueDate != nil {
		due = st.DueDate.Format("2006-01-02 15:04")
	}
	subject := fmt.Sprintf("Your %s statement is ready", calendar.Label(st.Period))
	content := fmt.Sprintf(`
		<h1>Statement %s</h1>
		<p>Reference: <strong>%s</strong></p>
		<p>Closing balance: <strong>%d</strong></p>
		<p>Minimum payment: <strong>%d</strong></p>
		<p>Due date: <strong>%s</strong></p>
		<small>This is an automated message, please do not reply</small>
	`, st.Period, refOrDash(st.ReferenceCode), st.ClosingBalance, minimumPayment, due)

	es.sendAsync(st.UserID, subject, content)
}

func (es *EmailSender) PenaltyPosted(ctx context.Context, userID uuid.UUID, source model.Statement, amount int64) {
	subject := fmt.Sprintf("Late payment penalty for %s", calendar.Label(source.Period))
	content := fmt.Sprintf(`
		<h1>Late payment penalty</h1>
		<p>Statement: <strong>%s</strong> (%s)</p>
		<p>Penalty: <strong>%d</strong></p>
		<p>The penalty was added to your current statement.</p>
		<small>This is an automated message, please do not reply</small>
	`, source.Period, refOrDash(source.ReferenceCode), amount)

	es.sendAsync(userID, subject, content)
}

func refOrDash(code *string) string {
	if code == nil {
		return "-"
	}
	return *code
}

// sendAsync resolves the recipient and sends outside the caller's request. Failures are logged.
func (es *EmailSender) sendAsync(userID uuid.UUID, subject, body string) {
	if !es.enabled {
		es.logger.Debugf("email notifications disabled, skipping %q for user %s", subject, userID)
		return
	}
	es.wg.Add(1)
	go func() {
		defer es.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), es.timeout)
		defer cancel()

		user, err := es.users.GetUser(ctx, userID)
		if err != nil {
			es.logger.WithError(err).Warnf("cannot notify user %s", userID)
			return
		}
		if user.Email == "" {
			es.logger.Warnf("user %s has no email address", userID)
			return
		}
		_ = es.sendEmail(user.Email, subject, body)
	}()
}

// Close waits until mails already handed to the sender are out, or until ctx is done.
func (es *EmailSender) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		es.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (es *EmailSender) sendEmail(to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", es.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := es.dialer.DialAndSend(m); err != nil {
		es.logger.WithError(err).Error("failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.logger.Infof("email sent to %s", to)
	return nil
}
