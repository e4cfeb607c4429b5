package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mspharm/libs/events"
)

type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []events.Attachment
}

type Sender interface {
	Send(msg Message) error
}

type Config struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// SMTPSender speaks plain SMTP and authenticates with PLAIN when a username
// is set.
type SMTPSender struct {
	addr string
	host string
	from string
	auth smtp.Auth
	now  func() time.Time
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg Config) *SMTPSender {
	host := strings.TrimSpace(cfg.Host)
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@mspharm.local"
	}
	s := &SMTPSender{
		addr: net.JoinHostPort(host, strings.TrimSpace(cfg.Port)),
		host: host,
		from: from,
		now:  time.Now,
		send: smtp.SendMail,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s
}

func (s *SMTPSender) Send(msg Message) error {
	raw, err := Build(s.from, msg, s.now())
	if err != nil {
		return err
	}
	return s.send(s.addr, s.auth, s.from, []string{msg.To}, raw)
}

// Build renders msg as MIME. Headers are RFC 2047 encoded since subjects and
// file names are usually Korean; parts are base64.
func Build(from string, msg Message, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.BEncoding.Encode("utf-8", msg.Subject))
	header("Date", at.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@mspharm>", uuid.NewString()))
	header("MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		header("Content-Type", "text/plain; charset=utf-8")
		header("Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(msg.Body))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	writeBase64(part, []byte(msg.Body))

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		name := mime.BEncoding.Encode("utf-8", a.Filename)
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", ct, name)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		writeBase64(part, a.Content)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64 wraps at 76 columns.
func writeBase64(w io.Writer, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		_, _ = io.WriteString(w, enc[:76]+"\r\n")
		enc = enc[76:]
	}
	_, _ = io.WriteString(w, enc+"\r\n")
}
