package protocol

import (
	"encoding/json"
	"strconv"
)

// DefaultInstructions is the assistant persona configured on every session.
const DefaultInstructions = `You are a helpful AI assistant for Graphic Era Hill University (GEHU). Your role is to provide accurate information about:

- University programs and courses, especially BCA (Bachelor of Computer Applications)
- Admission procedures and requirements
- Campus facilities and locations
- Faculty information and academic departments
- Student services and resources
- Timetables and schedules
- ERP portal access and navigation
- General university information

About GEHU:
- Graphic Era Hill University is established by an Act of the State Legislature of Uttarakhand
- Located in Dehradun, Uttarakhand
- Offers various programs through the School of Computing
- Students can access the ERP portal at: https://student.gehu.ac.in/
- Faculty information is available at: https://gehu.ac.in/dehradun/computer-application/faculty/

Be friendly, professional, and helpful. Keep responses concise and clear.`

// Audio format and model identifiers used in session configuration.
const (
	AudioFormatPCM16   = "pcm16"
	TranscriptionModel = "whisper-1"
	TurnDetectionVAD   = "server_vad"
)

// MaxTokens caps response length. Zero marshals as "inf".
type MaxTokens int

// MarshalJSON implements json.Marshaler.
func (m MaxTokens) MarshalJSON() ([]byte, error) {
	if m <= 0 {
		return []byte(`"inf"`), nil
	}
	return []byte(strconv.Itoa(int(m))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MaxTokens) UnmarshalJSON(data []byte) error {
	if string(data) == `"inf"` {
		*m = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = MaxTokens(n)
	return nil
}

// TranscriptionConfig selects the input transcription model.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionConfig is the body of a session.update envelope.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens MaxTokens            `json:"max_response_output_tokens"`
}

// SessionUpdate is the envelope the relay injects once per session.
type SessionUpdate struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

// DefaultSessionConfig returns the fixed session parameters.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      DefaultInstructions,
		Voice:             "alloy",
		InputAudioFormat:  AudioFormatPCM16,
		OutputAudioFormat: AudioFormatPCM16,
		InputAudioTranscription: &TranscriptionConfig{
			Model: TranscriptionModel,
		},
		TurnDetection: &TurnDetection{
			Type:              TurnDetectionVAD,
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 1000,
		},
		Temperature: 0.8,
	}
}

// NewSessionUpdate encodes a session.update envelope.
func NewSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(SessionUpdate{Type: TypeSessionUpdate, Session: cfg})
}
