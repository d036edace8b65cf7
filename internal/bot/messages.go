package bot

import (
	"fmt"

	"calbot/internal/format"
	"calbot/internal/models"
)

const (
	msgDenied   = "You do not have permission to use this command."
	msgUnknown  = "Unknown command."
	msgAuth     = "The bot could not authenticate with Google Calendar. An operator needs to run `calbot auth` again."
	msgTimeout  = "Google Calendar did not answer in time. Please try again later."
	msgProvider = "Google Calendar could not complete the request. Please try again later."
	msgGeneric  = "Something went wrong while handling this command."

	// maxEchoRunes caps how much of a rejected option value is echoed back.
	maxEchoRunes = 64
)

func validationMessage(err *models.ValidationError) string {
	switch err.Field {
	case OptionStartTime, OptionEndTime:
		if err.Value == "" {
			return fmt.Sprintf("`%s` is required, format YYYY-MM-DDTHH:MM (for example 2025-03-01T10:00).", err.Field)
		}
		return fmt.Sprintf("Invalid `%s` %q: %s (for example 2025-03-01T10:00).", err.Field, format.Truncate(err.Value, maxEchoRunes), err.Expected)
	default:
		return fmt.Sprintf("Invalid `%s`: %s.", err.Field, err.Expected)
	}
}
