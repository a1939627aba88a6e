package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-callbot/internal/audio"
	"github.com/loqalabs/loqa-callbot/internal/dialogue"
	"github.com/loqalabs/loqa-callbot/internal/identity"
	"github.com/loqalabs/loqa-callbot/internal/normalizer"
	"github.com/loqalabs/loqa-callbot/internal/protocol"
	"github.com/loqalabs/loqa-callbot/internal/stt"
	"github.com/loqalabs/loqa-callbot/internal/telephony"
	"github.com/loqalabs/loqa-callbot/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collaborator stages, used for spans, latency and failure reporting.
const (
	stageSTT        = "stt.transcribe"
	stageDialogue   = "dialogue.send"
	stageTTS        = "tts.synthesize"
	stagePlayback   = "playback"
	stageEscalation = "escalation"
)

// Drop reasons for flushed audio that yields no reply.
const (
	dropEmpty         = "empty_transcript"
	dropLowConfidence = "low_confidence"
	dropNoReply       = "no_reply"
)

type resultKind int

const (
	kindOpening resultKind = iota
	kindReply
)

// turnJob hands a flushed utterance to a worker. The worker owns pcm.
type turnJob struct {
	utterance int
	pcm       []byte
	language  string
	phone     string
	driverID  string
	turn      int
	reason    string
}

type openingJob struct {
	language string
	phone    string
	driver   identity.Driver
}

type turnResult struct {
	kind        resultKind
	utterance   int
	transcript  stt.TranscriptionResult
	correction  normalizer.CorrectionResult
	confidence  float64
	accepted    bool
	language    string
	reply       string
	sentiment   float64
	sentimentOK bool
	handoff     bool
	dropped     string
	stage       string
	err         error
}

// runTurn performs one recognize, interpret and speak round trip. It never
// touches session state; the session goroutine applies the result.
func (s *VoiceSession) runTurn(ctx context.Context, job turnJob) (res turnResult) {
	res = turnResult{kind: kindReply, utterance: job.utterance, language: job.language}
	ctx, span := s.mgr.inst.tracer.Start(ctx, "session.turn", trace.WithAttributes(
		attribute.String("session_id", s.ID),
		attribute.Int("utterance", job.utterance),
		attribute.String("flush_reason", job.reason),
	))
	defer func() {
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
		}
		span.End()
	}()

	pcm := s.mgr.prepare(job.pcm)
	if len(pcm) == 0 {
		res.dropped = dropEmpty
		return res
	}

	err := s.timed(ctx, stageSTT, s.cfg.STTTimeoutMS, func(ctx context.Context) error {
		var err error
		res.transcript, err = s.mgr.recognizer.Transcribe(ctx, pcm, audio.RecognizerRate, job.language)
		return err
	})
	if err != nil {
		return failed(res, stageSTT, err)
	}

	text := strings.TrimSpace(res.transcript.Text)
	if text == "" {
		res.dropped = dropEmpty
		return res
	}
	if res.transcript.Confidence < s.cfg.MinConfidence {
		res.dropped = dropLowConfidence
		return res
	}

	res.correction = s.mgr.normalizer.Normalize(text)
	if res.correction.Corrected == "" {
		res.dropped = dropEmpty
		return res
	}
	res.accepted = true
	if detected := normalizer.Detect(text); normalizer.ShouldSwitch(job.language, detected) {
		res.language = detected
	}
	res.confidence = min(1, res.transcript.Confidence+res.correction.ConfidenceBoost)

	var replies []dialogue.Reply
	err = s.timed(ctx, stageDialogue, s.cfg.DialogueTimeoutMS, func(ctx context.Context) error {
		var err error
		replies, err = s.mgr.engine.Send(ctx, dialogue.Request{
			SessionID: s.ID,
			Message:   res.correction.Corrected,
			Metadata:  dialogueMetadata(job.phone, res.language, res.confidence),
		})
		return err
	})
	if err != nil {
		return failed(res, stageDialogue, err)
	}

	res.reply = strings.TrimSpace(dialogue.FirstText(replies))
	res.sentiment, res.sentimentOK = dialogue.Sentiment(replies)
	if dialogue.WantsHandoff(replies, s.cfg.HandoffPhrases) {
		if err := s.escalate(ctx, job, res); err != nil {
			return failed(res, stageEscalation, err)
		}
		res.handoff = true
		return res
	}
	if res.reply == "" {
		res.dropped = dropNoReply
		return res
	}

	if err := s.speak(ctx, res.reply, res.language); err != nil {
		return failed(res, stageTTS, err)
	}
	return res
}

// runOpening announces the session to the dialogue engine and plays the
// greeting.
func (s *VoiceSession) runOpening(ctx context.Context, job openingJob) turnResult {
	res := turnResult{kind: kindOpening, language: job.language}

	metadata := dialogueMetadata(job.phone, job.language, 1)
	metadata["channel"] = s.mgr.channel
	if job.driver.ID != "" {
		metadata["driver_id"] = job.driver.ID
	}
	err := s.timed(ctx, stageDialogue, s.cfg.DialogueTimeoutMS, func(ctx context.Context) error {
		_, err := s.mgr.engine.Send(ctx, dialogue.Request{
			SessionID: s.ID,
			Message:   dialogue.SessionStartMessage,
			Metadata:  metadata,
		})
		return err
	})
	if err != nil {
		s.log.Warn("session start notification failed", slogError(err))
	}

	if !s.cfg.Greeting {
		return res
	}
	text := greetingText(s.cfg.GreetingText, job.driver.Name)
	if text == "" {
		return res
	}
	if err := s.speak(ctx, text, job.language); err != nil {
		return failed(res, stageTTS, err)
	}
	res.reply = text
	return res
}

func greetingText(template, name string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		name = " " + name
	}
	return strings.TrimSpace(strings.ReplaceAll(template, "{name}", name))
}

func (s *VoiceSession) escalate(ctx context.Context, job turnJob, res turnResult) error {
	if err := s.clearPlayback(); err != nil {
		s.log.Debug("clear before handoff skipped", slogError(err))
	}
	req := protocol.HandoffRequest{
		SessionID: s.ID,
		CallSID:   s.CallSID,
		Phone:     job.phone,
		DriverID:  job.driverID,
		Language:  res.language,
		Turn:      job.turn + 1,
		Reason:    res.correction.Corrected,
		Timestamp: s.mgr.now().UTC(),
	}
	return s.timed(ctx, stageEscalation, s.cfg.DialogueTimeoutMS, func(ctx context.Context) error {
		return s.mgr.escalator.Escalate(ctx, req)
	})
}

// speak synthesizes text and streams it to the caller, returning once the
// closing mark has reached the socket.
func (s *VoiceSession) speak(ctx context.Context, text, language string) error {
	var (
		pcm  []byte
		rate int
	)
	err := s.timed(ctx, stageTTS, s.cfg.TTSTimeoutMS, func(ctx context.Context) error {
		var err error
		pcm, rate, err = tts.Collect(ctx, s.mgr.synth, tts.SynthRequest{
			SessionID: s.ID,
			Text:      text,
			Language:  language,
			Voice:     tts.VoiceFor(s.mgr.ttsCfg, language),
		})
		return err
	})
	if err != nil {
		return err
	}
	ulaw, err := s.mgr.toTelephony(pcm, rate)
	if err != nil {
		return err
	}
	return s.play(ctx, ulaw)
}

func (s *VoiceSession) play(ctx context.Context, ulaw []byte) error {
	started := time.Now()
	for _, chunk := range telephony.Chunk(ulaw, s.frameBytes) {
		msg, err := telephony.MediaMessage(s.StreamSID, chunk)
		if err != nil {
			return err
		}
		if err := s.enqueue(ctx, outboundFrame{payload: msg}); err != nil {
			return err
		}
	}

	mark, err := telephony.MarkMessage(s.StreamSID, uuid.NewString())
	if err != nil {
		return err
	}
	written := make(chan struct{})
	if err := s.enqueue(ctx, outboundFrame{payload: mark, written: written}); err != nil {
		return err
	}
	select {
	case <-written:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.writerDone:
		return errWriterClosed
	}
	s.mgr.inst.observe(ctx, stagePlayback, float64(time.Since(started).Milliseconds()))
	return nil
}

// timed runs fn under a span and a timeout and records its latency.
func (s *VoiceSession) timed(ctx context.Context, stage string, timeoutMS int, fn func(context.Context) error) error {
	ctx, span := s.mgr.inst.tracer.Start(ctx, stage)
	defer span.End()
	if timeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ms(timeoutMS))
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	elapsed := float64(time.Since(started).Microseconds()) / 1000
	s.mgr.inst.observe(ctx, stage, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Debug("collaborator call failed",
			slog.String("stage", stage),
			slog.Float64("elapsed_ms", elapsed),
			slogError(err))
	}
	return err
}

func failed(res turnResult, stage string, err error) turnResult {
	res.stage = stage
	res.err = fmt.Errorf("%s: %w", stage, err)
	return res
}
