package email

import (
	"fmt"
	"log"
	"net/smtp"

	"vitrine/common"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
	domain   string
}

func NewEmailService(cfg common.Config) *EmailService {
	domain := cfg.Domain
	if domain == "" {
		domain = "http://localhost:8080"
	}

	return &EmailService{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		domain:   domain,
	}
}

func (e *EmailService) SendVerificationEmail(to, token string) error {
	verificationLink := fmt.Sprintf("%s/api/auth/confirm/%s", e.domain, token)

	subject := "Confirmez votre email - Vitrine"
	body := fmt.Sprintf(`
Bonjour !

Merci de vous être inscrit sur Vitrine.

Pour confirmer votre email et activer votre compte, cliquez sur le lien ci-dessous :

%s

Si vous ne vous êtes pas inscrit sur Vitrine, ignorez cet email.

---
Vitrine - Créez le site de votre entreprise
`, verificationLink)

	return e.send(to, subject, body)
}

func (e *EmailService) SendMagicLinkEmail(to, link string) error {
	subject := "Votre lien de connexion - Vitrine"
	body := fmt.Sprintf(`
Bonjour !

Un administrateur a généré un lien de connexion pour votre compte.

Ce lien est valable 15 minutes :

%s

Si vous n'êtes pas à l'origine de cette demande, contactez le support.

---
Vitrine - Créez le site de votre entreprise
`, link)

	return e.send(to, subject, body)
}

func (e *EmailService) send(to, subject, body string) error {
	if e.host == "" {
		log.Printf("SMTP non configuré, email pour %s ignoré (sujet : %s)", to, subject)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("erreur lors de l'envoi de l'email: %v", err)
	}

	return nil
}
