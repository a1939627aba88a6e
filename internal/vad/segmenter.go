// Package vad segments a stream of telephony frames into utterances using an
// energy detector with hysteresis and an adaptive noise floor.
package vad

import (
	"sort"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/config"
)

// State is the segmenter phase.
type State int

const (
	Silence State = iota
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "silence"
}

const (
	// silent frames needed before the floor adapts
	minNoiseSamples = 10
	maxFloorRaiseDB = 20.0
)

// Config tunes the detector. Levels are dBFS.
type Config struct {
	SampleRate      int
	OnsetDB         float64
	SilenceDB       float64
	MinSpeech       time.Duration
	TrailingSilence time.Duration
	MaxSpeech       time.Duration
	NoiseWindow     int
	NoisePercentile float64
	NoiseMarginDB   float64
	AdaptiveFloor   bool
}

// ConfigFrom maps runtime settings onto a detector config for 8 kHz frames.
func ConfigFrom(cfg config.VADConfig) Config {
	return Config{
		SampleRate:      audio.TelephonyRate,
		OnsetDB:         cfg.OnsetDB,
		SilenceDB:       cfg.SilenceDB,
		MinSpeech:       time.Duration(cfg.MinSpeechMS) * time.Millisecond,
		TrailingSilence: time.Duration(cfg.TrailingSilence) * time.Millisecond,
		MaxSpeech:       time.Duration(cfg.MaxSpeechMS) * time.Millisecond,
		NoiseWindow:     cfg.NoiseWindow,
		NoisePercentile: cfg.NoisePercentile,
		NoiseMarginDB:   cfg.NoiseMarginDB,
		AdaptiveFloor:   cfg.AdaptiveFloor,
	}
}

// Segmenter is not safe for concurrent use; each call owns one.
type Segmenter struct {
	cfg      Config
	state    State
	speech   time.Duration
	trailing time.Duration
	noise    []float64
	next     int
	offset   float64
	level    float64
}

func New(cfg Config) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.TelephonyRate
	}
	s := &Segmenter{cfg: cfg, level: audio.SilenceDB}
	if cfg.AdaptiveFloor && cfg.NoiseWindow > 0 {
		s.noise = make([]float64, 0, cfg.NoiseWindow)
	}
	return s
}

// Process classifies one PCM16 frame. shouldFinalize is true on exactly the
// frame that completes an utterance.
func (s *Segmenter) Process(frame []byte) (isSpeech, shouldFinalize bool) {
	dur := audio.Duration(frame, s.cfg.SampleRate)
	level := audio.RMSDb(frame)
	s.level = level
	onset, silence := s.Thresholds()

	switch s.state {
	case Silence:
		if level >= onset {
			s.state = Speaking
			s.speech = dur
			s.trailing = 0
			return true, s.checkMax()
		}
		s.observeNoise(level)
		return false, false
	default:
		if level >= silence {
			s.speech += s.trailing + dur
			s.trailing = 0
			isSpeech = true
		} else {
			s.trailing += dur
		}
		if s.checkMax() {
			return isSpeech, true
		}
		if s.trailing >= s.cfg.TrailingSilence {
			finalize := s.speech >= s.cfg.MinSpeech
			s.reset()
			return false, finalize
		}
		return isSpeech, false
	}
}

func (s *Segmenter) checkMax() bool {
	if s.cfg.MaxSpeech > 0 && s.speech+s.trailing >= s.cfg.MaxSpeech {
		s.reset()
		return true
	}
	return false
}

func (s *Segmenter) reset() {
	s.state = Silence
	s.speech = 0
	s.trailing = 0
}

// Reset abandons any utterance in progress. The noise floor is kept.
func (s *Segmenter) Reset() { s.reset() }

func (s *Segmenter) State() State { return s.state }

// Level is the dBFS level of the most recent frame.
func (s *Segmenter) Level() float64 { return s.level }

// Thresholds returns the onset and silence levels currently in force. Both
// move together so the hysteresis gap never shrinks.
func (s *Segmenter) Thresholds() (onset, silence float64) {
	return s.cfg.OnsetDB + s.offset, s.cfg.SilenceDB + s.offset
}

func (s *Segmenter) observeNoise(level float64) {
	if s.noise == nil {
		return
	}
	if len(s.noise) < cap(s.noise) {
		s.noise = append(s.noise, level)
	} else {
		s.noise[s.next] = level
		s.next = (s.next + 1) % len(s.noise)
	}
	if len(s.noise) < minNoiseSamples {
		return
	}
	floor := percentile(s.noise, s.cfg.NoisePercentile)
	raised := floor + s.cfg.NoiseMarginDB - s.cfg.OnsetDB
	if raised < 0 {
		raised = 0
	}
	if raised > maxFloorRaiseDB {
		raised = maxFloorRaiseDB
	}
	s.offset = raised
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
