package email

import (
	"fmt"
	"net/smtp"

	"github.com/shopspring/decimal"
)

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
	send sendFunc
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
		send: smtp.SendMail,
	}
}

// SendOrderReady tells the customer their order can be collected.
func (s *Service) SendOrderReady(to, number string, total decimal.Decimal, items []OrderItem) error {
	subject := fmt.Sprintf("Your order %s is ready", number)
	body := BuildOrderReadyBody(number, total, items)
	return s.sendMail(to, subject, body)
}

func (s *Service) sendMail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.send(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
