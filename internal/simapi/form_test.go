package simapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettingsUpdate_OnlyDt(t *testing.T) {
	form := map[string]string{"dt": "0.01", "t_total": "", "current_time": "  ", "nb_particles": ""}

	u, err := ParseSettingsUpdate(form, SimulationFields)
	require.NoError(t, err)

	body, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dt":0.01}`, string(body))
}

func TestParseSettingsUpdate_Types(t *testing.T) {
	form := map[string]string{"nb_particles": "250", "t_total": "1e3", "history_resolution": "5"}

	u, err := ParseSettingsUpdate(form, SimulationFields)
	require.NoError(t, err)
	require.NotNil(t, u.NbParticles)
	require.NotNil(t, u.TTotal)
	require.NotNil(t, u.HistoryResolution)
	assert.Equal(t, 250, *u.NbParticles)
	assert.Equal(t, 1000.0, *u.TTotal)
	assert.Equal(t, 5, *u.HistoryResolution)
	assert.Nil(t, u.Dt)
}

func TestParseSettingsUpdate_Box(t *testing.T) {
	form := map[string]string{"MIN_X": "-10", "MAX_Z": "20", "dt": "1"}

	u, err := ParseSettingsUpdate(form, BoxFields)
	require.NoError(t, err)

	body, _ := json.Marshal(u)
	assert.JSONEq(t, `{"MIN_X":-10,"MAX_Z":20}`, string(body), "dt is not a box field")
}

func TestParseSettingsUpdate_Errors(t *testing.T) {
	_, err := ParseSettingsUpdate(map[string]string{"dt": ""}, SimulationFields)
	assert.True(t, errors.Is(err, ErrEmptyForm))

	_, err = ParseSettingsUpdate(map[string]string{"dt": "fast"}, SimulationFields)
	assert.Error(t, err)

	_, err = ParseSettingsUpdate(map[string]string{"nb_particles": "1.5"}, SimulationFields)
	assert.Error(t, err)
}
