// Package mailer sends the HTML run report over SMTP with the captures
// embedded inline. The body template and its placeholders come from the job's
// decrypted configuration.
package mailer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	mail "github.com/wneessen/go-mail"

	"rpa-agent/internal/model"
)

const defaultSubject = "Reporte automático"

type Mailer struct{}

func New() *Mailer {
	return &Mailer{}
}

// Send composes and delivers the report email. It requires at least one
// recipient (direct or copy) and, for a remote server, complete credentials.
func (m *Mailer) Send(cfg model.MailConfig, rpa model.RPAConfig, captures []model.Capture, timestamp string) error {
	if len(cfg.Recipients) == 0 && len(cfg.Cc) == 0 {
		return fmt.Errorf("no recipients or cc configured")
	}

	smtp := cfg.SMTPLocal
	if cfg.UseRemote {
		smtp = cfg.SMTPRemote
		if smtp.User == "" || smtp.Password == "" {
			return fmt.Errorf("remote server credentials incomplete")
		}
	}

	msg := mail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", cfg.From, err)
	}
	if len(cfg.Recipients) > 0 {
		if err := msg.To(cfg.Recipients...); err != nil {
			return fmt.Errorf("invalid recipient address: %w", err)
		}
	}
	if len(cfg.Cc) > 0 {
		if err := msg.Cc(cfg.Cc...); err != nil {
			return fmt.Errorf("invalid cc address: %w", err)
		}
	}
	msg.Subject(subject(cfg))
	msg.SetBodyString(mail.TypeTextHTML, buildBody(cfg, rpa, captures, timestamp))

	for _, capture := range captures {
		if _, err := os.Stat(capture.ImagePath); err != nil {
			log.WithFields(log.Fields{"image": capture.ImagePath, "error": err}).Warn("Skipping missing capture")
			continue
		}
		msg.EmbedFile(capture.ImagePath)
		if cfg.AttachCaptures {
			msg.AttachFile(capture.ImagePath)
		}
	}

	opts := []mail.Option{mail.WithPort(smtp.Port)}
	if cfg.UseRemote {
		opts = append(opts,
			mail.WithTLSPolicy(mail.TLSMandatory),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(smtp.User),
			mail.WithPassword(smtp.Password),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(smtp.Server, opts...)
	if err != nil {
		return fmt.Errorf("failed creating mail client: %w", err)
	}
	if err = client.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed sending mail: %w", err)
	}
	return nil
}

func subject(cfg model.MailConfig) string {
	s := cfg.Subject
	if s == "" {
		s = defaultSubject
	}
	if cfg.IncludeDate {
		s += " - " + time.Now().Format("2006-01-02 15:04")
	}
	return strings.TrimSpace(s)
}

// buildBody substitutes the template placeholders: job name, run timestamp,
// visited URL list, and one inline image block per capture. Inline images are
// referenced by their file name, which is also their embed content ID.
func buildBody(cfg model.MailConfig, rpa model.RPAConfig, captures []model.Capture, timestamp string) string {
	body := strings.ReplaceAll(cfg.BodyHTML, "{{nombre_rpa}}", rpa.Name)
	body = strings.ReplaceAll(body, "{{fecha}}", timestamp)

	urls := strings.Builder{}
	for _, route := range rpa.Routes {
		urls.WriteString(fmt.Sprintf("<li>%s</li>", route.URL))
	}
	body = strings.ReplaceAll(body, "{{lista_urls}}", fmt.Sprintf("<ul>%s</ul>", urls.String()))

	blocks := strings.Builder{}
	for idx, capture := range captures {
		cid := filepath.Base(capture.ImagePath)
		blocks.WriteString(fmt.Sprintf(
			"<hr><p><b>Captura %d:</b> <a href=%q target=\"_blank\">%s</a></p>"+
				"<img src=\"cid:%s\" alt=\"Captura %d\" style=\"max-width:800px; border:1px solid #ccc;\" />",
			idx+1, capture.URL, capture.URL, cid, idx+1))
	}
	captureBlock := blocks.String()
	if captureBlock == "" {
		captureBlock = "<p>No se tomaron capturas.</p>"
	}
	return strings.ReplaceAll(body, "{{bloque_capturas}}", captureBlock)
}
