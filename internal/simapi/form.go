package simapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrEmptyForm is returned when a form has no filled field.
var ErrEmptyForm = errors.New("no field filled")

// ErrInvalidForm is returned when a filled field does not decode.
var ErrInvalidForm = errors.New("invalid settings form")

// SimulationFields are the run parameters of the settings form.
var SimulationFields = []string{"dt", "t_total", "current_time", "nb_particles", "rewind_max_history", "history_resolution"}

// BoxFields are the bounds of the box form.
var BoxFields = []string{"MIN_X", "MIN_Y", "MIN_Z", "MAX_X", "MAX_Y", "MAX_Z"}

// ParseSettingsUpdate builds a partial update from raw form values. Only
// keys listed in allowed are considered, and blank values are skipped so
// the payload carries exactly the fields the user filled in.
func ParseSettingsUpdate(form map[string]string, allowed []string) (SettingsUpdate, error) {
	filled := make(map[string]interface{})
	for _, key := range allowed {
		v := strings.TrimSpace(form[key])
		if v == "" {
			continue
		}
		filled[key] = v
	}
	if len(filled) == 0 {
		return SettingsUpdate{}, ErrEmptyForm
	}

	var update SettingsUpdate
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &update,
	})
	if err != nil {
		return SettingsUpdate{}, fmt.Errorf("failed to build form decoder: %w", err)
	}
	if err := dec.Decode(filled); err != nil {
		return SettingsUpdate{}, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	return update, nil
}
