// Package model implements the spec's Model Transformer (§4.E, component E):
// a pure function from (EngineUpdateResult, TuningSystem, RootNote) to
// ModelUpdateResult, stateful only in caching the active tuning system and
// root note across calls. Grounded on
// original_source/pitch-toy/model/mod.rs's DataModel, carrying over its
// update()/process_user_actions() split and its AlreadyActive/AlreadySet
// rejection rule for redundant user actions (§4.E "User action processing").
package model

import (
	"github.com/mandersson1024/intonation-toy-sub003/internal/errors"
	"github.com/mandersson1024/intonation-toy-sub003/internal/pitch"
	"github.com/mandersson1024/intonation-toy-sub003/internal/tuning"
	"github.com/mandersson1024/intonation-toy-sub003/internal/volume"
)

// PermissionState mirrors the spec's microphone permission state machine (§6).
type PermissionState int

const (
	NotRequested PermissionState = iota
	Requested
	Granted
	Denied
)

// Pitch is the spec's Detected(f32,f32) | NotDetected sum type (§6), carried
// as a flat struct since Go has no tagged union: Present reports which arm
// is active.
type Pitch struct {
	Present   bool
	Frequency float32
	Clarity   float32
}

// DetectedPitch constructs a Pitch in the Detected arm.
func DetectedPitch(r pitch.Result) Pitch {
	return Pitch{Present: true, Frequency: r.Frequency, Clarity: r.Clarity}
}

// AudioAnalysis is the spec's audio_analysis payload inside EngineUpdateResult.
type AudioAnalysis struct {
	Volume    volume.Analysis
	Pitch     Pitch
	Timestamp float64
}

// EngineUpdateResult is the spec's EngineUpdateResult (§6): what the audio
// engine layer (worklet + manager + analyzer) hands to the model each tick.
type EngineUpdateResult struct {
	AudioAnalysis   *AudioAnalysis
	AudioErrors     []errors.Kind
	PermissionState PermissionState
}

// UpdateResult is the spec's ModelUpdateResult (§6): what the model hands to
// the presentation layer each tick.
type UpdateResult struct {
	Volume            volume.Analysis
	Pitch             Pitch
	ClosestMidiNote   tuning.MidiNote
	CentsOffset       float64
	IntervalSemitones int
	TuningSystem      tuning.System
	RootNote          tuning.MidiNote
	Errors            []errors.Kind
	PermissionState   PermissionState
}

// silentVolume is reported when the engine layer has no audio analysis for
// this tick, matching the Rust source's -60.0/-60.0 default.
var silentVolume = volume.Analysis{RMSAmplitude: volume.SilenceFloorDBFS, PeakAmplitude: volume.SilenceFloorDBFS}

// TuningSystemChange is a proposed tuning-system switch from the
// presentation layer.
type TuningSystemChange struct {
	System       tuning.System
	CustomRatios [12]float64
}

// RootNoteAdjustment is a proposed root-note change from the presentation layer.
type RootNoteAdjustment struct {
	RootNote tuning.MidiNote
}

// UserActions batches the proposed changes collected in one application tick.
type UserActions struct {
	TuningSystemChanges []TuningSystemChange
	RootNoteAdjustments []RootNoteAdjustment
}

// ValidationKind classifies why a proposed user action was rejected.
type ValidationKind int

const (
	TuningSystemAlreadyActive ValidationKind = iota
	RootNoteAlreadySet
)

func (k ValidationKind) String() string {
	switch k {
	case TuningSystemAlreadyActive:
		return "tuning_system_already_active"
	case RootNoteAlreadySet:
		return "root_note_already_set"
	default:
		return "unknown"
	}
}

// ValidationError reports a rejected user action, per spec §4.E.
type ValidationError struct {
	Kind            ValidationKind
	RequestedSystem tuning.System
	RequestedRoot   tuning.MidiNote
}

// AppliedTuningChange is a validated, applied tuning-system change.
type AppliedTuningChange struct {
	System tuning.System
}

// AppliedRootChange is a validated, applied root-note change.
type AppliedRootChange struct {
	System   tuning.System
	RootNote tuning.MidiNote
}

// ProcessedActions is the result of ProcessUserActions: the actions that
// passed validation and were applied, plus errors for those rejected.
type ProcessedActions struct {
	TuningChanges    []AppliedTuningChange
	RootChanges      []AppliedRootChange
	ValidationErrors []ValidationError
}

// DataModel is the spec's Model Transformer. It is stateful only in caching
// the active tuning system and root note (§4.E "Contract").
type DataModel struct {
	tuningCfg tuning.Config
	root      tuning.MidiNote
}

// New creates a DataModel with Equal Temperament and A4 (MIDI 69) as
// defaults, matching DataModel::create in the original source.
func New() *DataModel {
	return &DataModel{tuningCfg: tuning.DefaultConfig(), root: 69}
}

// NewWithTuning creates a DataModel seeded from a persisted tuning
// preference instead of the hardcoded defaults, for callers (e.g. the CLI)
// that load a tuning.Config/root note from config at startup.
func NewWithTuning(cfg tuning.Config, root tuning.MidiNote) *DataModel {
	return &DataModel{tuningCfg: cfg, root: root}
}

// TuningSystem returns the model's currently active tuning system.
func (m *DataModel) TuningSystem() tuning.System { return m.tuningCfg.System }

// RootNote returns the model's currently active root note.
func (m *DataModel) RootNote() tuning.MidiNote { return m.root }

// Update transforms engineData into a UpdateResult under the model's cached
// tuning state, per spec §4.E. It never mutates engine-layer errors or
// reorders them (§4.E "Error propagation": "passed through by kind without
// rewording").
func (m *DataModel) Update(engineData EngineUpdateResult) UpdateResult {
	vol := silentVolume
	var p Pitch

	if engineData.AudioAnalysis != nil {
		vol = engineData.AudioAnalysis.Volume
		p = engineData.AudioAnalysis.Pitch
	}

	var note tuning.MidiNote
	var cents float64
	var interval int

	if p.Present {
		result, err := tuning.Convert(float64(p.Frequency), m.tuningCfg, m.root)
		if err != nil {
			// Conversion failure (e.g. an unimplemented tuning mode) degrades
			// to "no detection" for this tick rather than panicking the
			// real-time path; AnalysisError-equivalent handling per §7.
			p = Pitch{}
			note = m.root
			cents = 0
			interval = 0
		} else {
			note = result.ClosestMidiNote
			cents = result.CentsOffset
			interval = result.IntervalSemitones
		}
	} else {
		note = m.root
		cents = 0
		interval = 0
	}

	return UpdateResult{
		Volume:            vol,
		Pitch:             p,
		ClosestMidiNote:   note,
		CentsOffset:       cents,
		IntervalSemitones: interval,
		TuningSystem:      m.tuningCfg.System,
		RootNote:          m.root,
		Errors:            engineData.AudioErrors,
		PermissionState:   engineData.PermissionState,
	}
}

// ProcessUserActions validates and applies a batch of proposed tuning/root
// changes, rejecting no-ops per §4.E ("Reject if the proposed value equals
// the current value").
func (m *DataModel) ProcessUserActions(actions UserActions) ProcessedActions {
	var out ProcessedActions

	for _, change := range actions.TuningSystemChanges {
		if change.System == m.tuningCfg.System {
			out.ValidationErrors = append(out.ValidationErrors, ValidationError{
				Kind:            TuningSystemAlreadyActive,
				RequestedSystem: change.System,
			})
			continue
		}
		m.tuningCfg.System = change.System
		if change.System == tuning.Custom {
			m.tuningCfg.CustomRatios = change.CustomRatios
		}
		out.TuningChanges = append(out.TuningChanges, AppliedTuningChange{System: change.System})
	}

	for _, adj := range actions.RootNoteAdjustments {
		if adj.RootNote == m.root {
			out.ValidationErrors = append(out.ValidationErrors, ValidationError{
				Kind:          RootNoteAlreadySet,
				RequestedRoot: adj.RootNote,
			})
			continue
		}
		m.root = adj.RootNote
		out.RootChanges = append(out.RootChanges, AppliedRootChange{
			System:   m.tuningCfg.System,
			RootNote: m.root,
		})
	}

	return out
}
