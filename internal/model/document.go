package model

import "fmt"

// Document is the structure of a job's decrypted configuration. JSON tags follow
// the wire format of the encrypted documents produced by the configuration
// tooling, which predates this agent and cannot change.
type Document struct {
	RPA  RPAConfig  `json:"rpa" validate:"required"`
	Mail MailConfig `json:"correo"`
}

type RPAConfig struct {
	Name           string        `json:"nombre"`
	Routes         []Route       `json:"url_ruta" validate:"dive"`
	VisibleBrowser bool          `json:"modo_navegador_visible"`
	Screen         ScreenConfig  `json:"pantalla"`
	Schedule       *ScheduleSpec `json:"programacion"`
}

// Route is a single navigation step: visit a URL, optionally authenticate, wait,
// and optionally capture a screenshot.
type Route struct {
	URL          string     `json:"url"`
	WaitTimeMs   int        `json:"wait_time_ms" validate:"gte=0"`
	Capture      bool       `json:"capturar"`
	RequiresAuth bool       `json:"requiere_autenticacion"`
	AuthType     string     `json:"tipo_autenticacion" validate:"omitempty,oneof=http_basic form_js"`
	HTTPBasic    *BasicAuth `json:"http_basic,omitempty"`
	FormJS       *FormAuth  `json:"form_js,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FormAuth describes a scripted login form. LoginAction is either the literal
// "Enter" (press the key after filling) or a CSS selector to click.
type FormAuth struct {
	UsernameSelector string `json:"username_selector"`
	PasswordSelector string `json:"password_selector"`
	UsernameValue    string `json:"username_value"`
	PasswordValue    string `json:"password_value"`
	LoginAction      string `json:"login_action"`
}

type ScreenConfig struct {
	ViewportWidth  int  `json:"viewport_width"`
	ViewportHeight int  `json:"viewport_height"`
	FullPage       bool `json:"captura_pagina_completa"`
}

type MailConfig struct {
	UseRemote      bool       `json:"usar_remoto"`
	SMTPLocal      SMTPConfig `json:"smtp_local"`
	SMTPRemote     SMTPConfig `json:"smtp_remoto"`
	From           string     `json:"remitente"`
	Recipients     []string   `json:"destinatarios"`
	Cc             []string   `json:"cc"`
	Subject        string     `json:"asunto"`
	IncludeDate    bool       `json:"incluir_fecha"`
	BodyHTML       string     `json:"cuerpo_html"`
	AttachCaptures bool       `json:"adjuntar_capturas"`
}

type SMTPConfig struct {
	Server   string `json:"servidor"`
	Port     int    `json:"puerto"`
	User     string `json:"usuario"`
	Password string `json:"clave_aplicacion"`
}

// Recurrence frequencies recognized in a schedule spec.
const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// ScheduleSpec controls a job's recurrence. Either the frequency/interval/start
// triple is set, or Cron carries a standard cron expression (including @every);
// the triple wins when both are present.
type ScheduleSpec struct {
	Frequency string `json:"frecuencia"`
	Interval  int    `json:"intervalo"`
	StartTime string `json:"hora_inicio"`
	Cron      string `json:"cron,omitempty"`
}

// BaseSeconds returns the base period in seconds for a recognized frequency.
func BaseSeconds(frequency string) (int, error) {
	switch frequency {
	case FrequencyHourly:
		return 3600, nil
	case FrequencyDaily:
		return 86400, nil
	case FrequencyWeekly:
		return 604800, nil
	default:
		return 0, fmt.Errorf("unrecognized frequency %q", frequency)
	}
}
