// Package dialogconfig loads the dialog profile: the bot persona and script
// literals folded into the StartSession payload and the ChatTTSText
// injection sequence. Secret/credential loading and the transport endpoint
// live elsewhere — this is only the domain-level JSON the session
// controller folds into its wire payloads. Defaults always succeed; a JSON
// file overlay never hard-fails the caller.
package dialogconfig

import (
	"encoding/json"
	"os"
)

// Profile is the bot persona and script literals used to build the
// StartSession config payload and the ChatTTSText burst.
type Profile struct {
	BotName       string            `json:"bot_name"`
	SystemRole    string            `json:"system_role"`
	SpeakingStyle string            `json:"speaking_style"`
	Extra         map[string]string `json:"extra"`

	// Greeting is the text passed in the initial SayHello.
	Greeting string `json:"greeting"`

	// FollowUpGreeting is the text passed in the silence-prompt SayHello
	// re-greeting sent after 30s of inactivity.
	FollowUpGreeting string `json:"follow_up_greeting"`

	// ChatTTSTexts holds the four content strings sent in order during the
	// ChatTTSText sequence: round-1 start-and-middle, round-1 end, round-2
	// start-and-middle, round-2 end. Configurable rather than hardcoded so an
	// operator can restyle the interjection without a rebuild.
	ChatTTSTexts []string `json:"chat_tts_texts"`
}

// Default returns a Profile usable with no configuration file present.
func Default() Profile {
	return Profile{
		BotName:          "assistant",
		SystemRole:       "You are a helpful voice assistant.",
		SpeakingStyle:    "friendly and concise",
		Extra:            map[string]string{},
		Greeting:         "Hello, how can I help you today?",
		FollowUpGreeting: "Are you still there? I'm happy to keep helping.",
		ChatTTSTexts: []string{
			"Let me think about that for a moment.",
			"Just a moment longer.",
			"Still working on it.",
			"Almost there.",
		},
	}
}

// Load reads path as JSON and overlays it onto Default(). A missing or
// unreadable file is not an error — the caller gets the default profile.
func Load(path string) Profile {
	p := Default()
	if path == "" {
		return p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Default()
	}
	return p
}

// ttsAudioConfig is the fixed TTS audio config object folded into every
// StartSession payload (spec §4.7: channel=1, format="pcm", sampleRate
// matching the playback device rate).
type ttsAudioConfig struct {
	Channel    int    `json:"channel"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// dialogProfilePayload is the bot-persona portion of the StartSession body.
type dialogProfilePayload struct {
	BotName       string            `json:"bot_name"`
	SystemRole    string            `json:"system_role"`
	SpeakingStyle string            `json:"speaking_style"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// SessionConfigPayload builds the JSON payload sent as the StartSession
// message body: the fixed TTS audio config plus the dialog profile fields
// (spec §4.7).
func (p Profile) SessionConfigPayload() ([]byte, error) {
	return json.Marshal(struct {
		TTS    ttsAudioConfig       `json:"tts"`
		Dialog dialogProfilePayload `json:"dialog"`
	}{
		TTS: ttsAudioConfig{Channel: 1, Format: "pcm", SampleRate: 24000},
		Dialog: dialogProfilePayload{
			BotName:       p.BotName,
			SystemRole:    p.SystemRole,
			SpeakingStyle: p.SpeakingStyle,
			Extra:         p.Extra,
		},
	})
}

// SayHelloPayload builds the JSON payload sent as a SayHello message body
// with the given greeting text — used for both the initial greeting and any
// later silence-prompt re-greeting.
func (p Profile) SayHelloPayload(content string) ([]byte, error) {
	return json.Marshal(struct {
		Content string `json:"content"`
	}{Content: content})
}

// ChatTTSTextPayload builds the JSON payload for one message of the
// ChatTTSText sequence. index selects which of the four configured content
// strings to use, cycling if fewer than four are configured.
func (p Profile) ChatTTSTextPayload(index int, start, end bool) ([]byte, error) {
	texts := p.ChatTTSTexts
	if len(texts) == 0 {
		texts = Default().ChatTTSTexts
	}
	content := texts[index%len(texts)]
	return json.Marshal(struct {
		Start   bool   `json:"start"`
		End     bool   `json:"end"`
		Content string `json:"content"`
	}{Start: start, End: end, Content: content})
}
