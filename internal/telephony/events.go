// Package telephony translates the Twilio Media Streams wire protocol to and
// from internal types and wraps the Twilio REST API used for call control.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind names an inbound stream event.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventStart     EventKind = "start"
	EventMedia     EventKind = "media"
	EventMark      EventKind = "mark"
	EventStop      EventKind = "stop"
)

// StopReasonUnspecified is reported when the stop frame carries no reason.
const StopReasonUnspecified = "stopped"

// Event is a decoded inbound frame. Exactly one of Start, Media, Mark or Stop
// is set, matching Kind; connected frames carry only Protocol.
type Event struct {
	Kind      EventKind
	Sequence  string
	StreamSID string
	Protocol  string
	Start     *Start
	Media     *Media
	Mark      string
	Stop      *Stop
}

// Start describes the stream and the call it belongs to.
type Start struct {
	CallSID    string
	StreamSID  string
	AccountSID string
	Tracks     []string
	Encoding   string
	SampleRate int
	Channels   int
	Params     map[string]string
}

// Phone returns the raw caller number from the custom parameters.
func (s *Start) Phone() string {
	if s == nil {
		return ""
	}
	for _, key := range []string{"phone", "From", "from", "caller"} {
		if v := strings.TrimSpace(s.Params[key]); v != "" {
			return v
		}
	}
	return ""
}

// Media carries one decoded µ-law payload.
type Media struct {
	Track     string
	Chunk     string
	Timestamp string
	Payload   []byte
}

type Stop struct {
	CallSID    string
	AccountSID string
	Reason     string
}

type wireFrame struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSID      string     `json:"streamSid,omitempty"`
	Protocol       string     `json:"protocol,omitempty"`
	Start          *wireStart `json:"start,omitempty"`
	Media          *wireMedia `json:"media,omitempty"`
	Mark           *wireMark  `json:"mark,omitempty"`
	Stop           *wireStop  `json:"stop,omitempty"`
}

type wireStart struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      wireMediaFormat   `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type wireMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

type wireStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
	Reason     string `json:"reason,omitempty"`
}

// Parse decodes one text frame. Unknown event kinds yield a nil event and no
// error so callers can skip them.
func Parse(data []byte) (*Event, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode stream frame: %w", err)
	}
	evt := &Event{
		Kind:      EventKind(frame.Event),
		Sequence:  frame.SequenceNumber,
		StreamSID: frame.StreamSID,
	}
	switch evt.Kind {
	case EventConnected:
		evt.Protocol = frame.Protocol
	case EventStart:
		if frame.Start == nil {
			return nil, errors.New("start frame without start block")
		}
		s := frame.Start
		params := make(map[string]string, len(s.CustomParameters))
		for k, v := range s.CustomParameters {
			params[k] = v
		}
		evt.Start = &Start{
			CallSID:    s.CallSID,
			StreamSID:  firstNonEmpty(s.StreamSID, frame.StreamSID),
			AccountSID: s.AccountSID,
			Tracks:     s.Tracks,
			Encoding:   s.MediaFormat.Encoding,
			SampleRate: s.MediaFormat.SampleRate,
			Channels:   s.MediaFormat.Channels,
			Params:     params,
		}
		if evt.StreamSID == "" {
			evt.StreamSID = evt.Start.StreamSID
		}
	case EventMedia:
		if frame.Media == nil {
			return nil, errors.New("media frame without media block")
		}
		payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode media payload: %w", err)
		}
		evt.Media = &Media{
			Track:     frame.Media.Track,
			Chunk:     frame.Media.Chunk,
			Timestamp: frame.Media.Timestamp,
			Payload:   payload,
		}
	case EventMark:
		if frame.Mark != nil {
			evt.Mark = frame.Mark.Name
		}
	case EventStop:
		stop := &Stop{Reason: StopReasonUnspecified}
		if frame.Stop != nil {
			stop.CallSID = frame.Stop.CallSID
			stop.AccountSID = frame.Stop.AccountSID
			if frame.Stop.Reason != "" {
				stop.Reason = frame.Stop.Reason
			}
		}
		evt.Stop = stop
	default:
		return nil, nil
	}
	return evt, nil
}

// NormalizePhone reduces a caller number to its local 10-digit form: the
// country code prefix and any non-digit characters are removed and only the
// last ten digits are kept.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode != "" && len(digits) > 10 && strings.HasPrefix(digits, countryCode) {
		digits = digits[len(countryCode):]
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// E164 formats a local number for the REST API.
func E164(number, countryCode string) string {
	trimmed := strings.TrimSpace(number)
	if strings.HasPrefix(trimmed, "+") {
		return trimmed
	}
	local := NormalizePhone(trimmed, countryCode)
	if local == "" {
		return trimmed
	}
	return "+" + countryCode + local
}

type outboundMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundAudio `json:"media"`
}

type outboundAudio struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      wireMark `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaMessage wraps µ-law audio in an outbound media frame.
func MediaMessage(streamSID string, ulaw []byte) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:     string(EventMedia),
		StreamSID: streamSID,
		Media:     outboundAudio{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
}

// MarkMessage asks the provider to echo name once prior audio has played.
func MarkMessage(streamSID, name string) ([]byte, error) {
	return json.Marshal(outboundMark{
		Event:     string(EventMark),
		StreamSID: streamSID,
		Mark:      wireMark{Name: name},
	})
}

// ClearMessage discards audio queued at the provider but not yet played.
func ClearMessage(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: "clear", StreamSID: streamSID})
}

// Chunk splits a payload into frames of at most size bytes.
func Chunk(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := off + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
