package notify

import "github.com/rs/zerolog"

// Mailer sends the optional email notification. Delivery is not implemented;
// the command and the config key exist so an operator can pre-configure the
// address.
type Mailer struct {
	address string
	logger  zerolog.Logger
}

// NewMailer creates a mailer for the configured address, which may be empty.
func NewMailer(address string, logger zerolog.Logger) *Mailer {
	return &Mailer{
		address: address,
		logger:  logger.With().Str("component", "mailer").Logger(),
	}
}

// Send is a no-op when no address is configured, and otherwise only records
// that delivery is not implemented.
func (m *Mailer) Send() error {
	if m.address == "" {
		return nil
	}
	m.logger.Warn().Str("address", m.address).Msg("Email notification not implemented")
	return nil
}
