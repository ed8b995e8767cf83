// Package notify sends booking confirmation emails. Delivery is best-effort:
// failures are logged and never reach the booking flow.
package notify

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/example/gym-scheduler/internal/reservations"
)

type Mailer struct {
	Host     string
	Port     string
	From     string
	Password string
}

func (m *Mailer) Notify(userEmail, center string, classDate time.Time, className, classTime string) {
	subject := "Booking confirmed!"
	body := confirmationBody(reservations.CenterName(center), classDate, className, classTime)

	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + userEmail,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	auth := smtp.PlainAuth("", m.From, m.Password, m.Host)
	addr := m.Host + ":" + m.Port
	if err := smtp.SendMail(addr, auth, m.From, []string{userEmail}, []byte(msg)); err != nil {
		log.Printf("notify: send to %s failed: %v", userEmail, err)
	}
}

func confirmationBody(centerName string, classDate time.Time, className, classTime string) string {
	return fmt.Sprintf(`<html><body>
<h2>Your class is booked</h2>
<p><b>%s</b> at <b>%s</b></p>
<p>%s, %s</p>
</body></html>`,
		className, centerName, classDate.Format("Monday 02 Jan 2006"), classTime)
}

// Discard is used when SMTP is not configured.
type Discard struct{}

func (Discard) Notify(userEmail, center string, classDate time.Time, className, classTime string) {
	log.Printf("notify: (disabled) booking confirmation for %s: %s %s at %s",
		userEmail, classDate.Format("2006-01-02"), classTime, reservations.CenterName(center))
}
