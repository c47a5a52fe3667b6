package tui

import "time"

// StatusKind indicates severity for status messages/spinners.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

// statusTTL is how long a transient status stays in the status bar.
const statusTTL = 4 * time.Second

func (k StatusKind) style() func(...string) string {
	switch k {
	case StatusSuccess:
		return StatusSuccessStyle.Render
	case StatusWarn:
		return StatusWarnStyle.Render
	case StatusError:
		return StatusErrorStyle.Render
	default:
		return StatusInfoStyle.Render
	}
}
