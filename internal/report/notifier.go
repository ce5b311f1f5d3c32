// Package report turns task failures into desktop notifications and
// diagnostic output.
package report

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog/log"
)

// Notifier delivers short human-facing messages.
type Notifier interface {
	Notify(message string)
	NotifyError(err error)
}

// Desktop sends notifications through the OS notification center.
type Desktop struct {
	Title string
	Icon  string
}

// NewDesktop creates a desktop notifier with the given title.
func NewDesktop(title string) *Desktop {
	if title == "" {
		title = "assetflow"
	}
	return &Desktop{Title: title}
}

// Notify shows message immediately.
func (d *Desktop) Notify(message string) {
	if err := beeep.Notify(d.Title, message, d.Icon); err != nil {
		log.Debug().Err(err).Msg("desktop notification failed")
	}
}

// NotifyError shows "Error: <message>".
func (d *Desktop) NotifyError(err error) {
	if err == nil {
		return
	}
	d.Notify("Error: " + err.Error())
}

// Nop discards notifications but still logs them at debug level.
type Nop struct{}

func (Nop) Notify(message string) { log.Debug().Str("message", message).Msg("notify") }

func (Nop) NotifyError(err error) { log.Debug().Err(err).Msg("notify error") }
