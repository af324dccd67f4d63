package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mandersson1024/intonation-toy-sub003/internal/errors"
	"github.com/mandersson1024/intonation-toy-sub003/internal/pitch"
	"github.com/mandersson1024/intonation-toy-sub003/internal/tuning"
	"github.com/mandersson1024/intonation-toy-sub003/internal/volume"
)

func detected(freq, clarity float32) Pitch {
	return DetectedPitch(pitch.Result{Frequency: freq, Clarity: clarity})
}

func TestUpdateWithNoAudioAnalysisReturnsSilence(t *testing.T) {
	m := New()
	result := m.Update(EngineUpdateResult{PermissionState: NotRequested})
	assert.False(t, result.Pitch.Present)
	assert.Equal(t, volume.SilenceFloorDBFS, result.Volume.RMSAmplitude)
	assert.Equal(t, tuning.MidiNote(69), result.ClosestMidiNote)
	assert.Equal(t, 0.0, result.CentsOffset)
}

func TestUpdatePerfectA4(t *testing.T) {
	m := New()
	result := m.Update(EngineUpdateResult{
		AudioAnalysis: &AudioAnalysis{Pitch: detected(440.0, 0.95)},
	})
	assert.Equal(t, tuning.MidiNote(69), result.ClosestMidiNote)
	assert.InDelta(t, 0, result.CentsOffset, 1.0)
	assert.Equal(t, 0, result.IntervalSemitones)
}

func TestUpdateFlatC4(t *testing.T) {
	m := New()
	result := m.Update(EngineUpdateResult{
		AudioAnalysis: &AudioAnalysis{Pitch: detected(260.0, 0.90)},
	})
	assert.Equal(t, tuning.MidiNote(60), result.ClosestMidiNote)
	assert.Less(t, result.CentsOffset, 0.0)
}

func TestUpdatePropagatesVolumeErrorsAndPermissionState(t *testing.T) {
	m := New()
	result := m.Update(EngineUpdateResult{
		AudioAnalysis: &AudioAnalysis{
			Volume: volume.Analysis{PeakAmplitude: -6.0, RMSAmplitude: -12.0},
			Pitch:  detected(523.25, 0.88),
		},
		AudioErrors:     []errors.Kind{errors.AudioContextSuspended},
		PermissionState: Granted,
	})
	assert.Equal(t, float32(-6.0), result.Volume.PeakAmplitude)
	assert.Equal(t, []errors.Kind{errors.AudioContextSuspended}, result.Errors)
	assert.Equal(t, Granted, result.PermissionState)
	assert.Equal(t, tuning.MidiNote(72), result.ClosestMidiNote) // C5
}

func TestRootNoteChangeAffectsIntervalNotNoteIdentity(t *testing.T) {
	m := New()
	first := m.Update(EngineUpdateResult{AudioAnalysis: &AudioAnalysis{Pitch: detected(440.0, 0.95)}})
	assert.Equal(t, 0, first.IntervalSemitones)

	m.ProcessUserActions(UserActions{RootNoteAdjustments: []RootNoteAdjustment{{RootNote: 60}}})

	second := m.Update(EngineUpdateResult{AudioAnalysis: &AudioAnalysis{Pitch: detected(440.0, 0.95)}})
	assert.Equal(t, tuning.MidiNote(69), second.ClosestMidiNote)
	assert.Equal(t, 9, second.IntervalSemitones)
}

func TestTuningSystemAlreadyActiveIsRejected(t *testing.T) {
	m := New()
	result := m.ProcessUserActions(UserActions{
		TuningSystemChanges: []TuningSystemChange{{System: tuning.EqualTemperament}},
	})
	assert.Empty(t, result.TuningChanges)
	assert.Equal(t, []ValidationError{{Kind: TuningSystemAlreadyActive, RequestedSystem: tuning.EqualTemperament}}, result.ValidationErrors)
}

func TestRootNoteAlreadySetIsRejected(t *testing.T) {
	m := New()
	result := m.ProcessUserActions(UserActions{
		RootNoteAdjustments: []RootNoteAdjustment{{RootNote: 69}},
	})
	assert.Empty(t, result.RootChanges)
	assert.Equal(t, []ValidationError{{Kind: RootNoteAlreadySet, RequestedRoot: 69}}, result.ValidationErrors)
}

func TestMixedValidationResults(t *testing.T) {
	m := New()
	result := m.ProcessUserActions(UserActions{
		TuningSystemChanges: []TuningSystemChange{{System: tuning.EqualTemperament}},
		RootNoteAdjustments: []RootNoteAdjustment{
			{RootNote: 69}, // rejected: already set
			{RootNote: 62}, // accepted
		},
	})
	assert.Empty(t, result.TuningChanges)
	assert.Len(t, result.RootChanges, 1)
	assert.Equal(t, tuning.MidiNote(62), result.RootChanges[0].RootNote)
	assert.Len(t, result.ValidationErrors, 2)
	assert.Equal(t, tuning.MidiNote(62), m.RootNote())
}

func TestCustomTuningSystemStoresRatios(t *testing.T) {
	m := New()
	ratios := [12]float64{1, 1.0667, 1.125, 1.2, 1.25, 1.333, 1.4, 1.5, 1.6, 1.667, 1.778, 1.875}
	result := m.ProcessUserActions(UserActions{
		TuningSystemChanges: []TuningSystemChange{{System: tuning.Custom, CustomRatios: ratios}},
	})
	assert.Len(t, result.TuningChanges, 1)
	assert.Equal(t, tuning.Custom, m.TuningSystem())
}
