package tts

// elevenLabsPresets maps friendly names to ElevenLabs voice IDs so the
// ELEVENLABS_VOICE setting can name a voice instead of carrying a raw
// 20-character ID. Unknown names pass through as IDs.
var elevenLabsPresets = map[string]string{
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"aria":      "9BWtsMINqrJLrRacOk9x",
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"rachel":    "21m00Tcm4TlvDq8ikWAM",
	"josh":      "TxGEqnHWrfWFTfGW9XjX",
	"adam":      "pNInz6obpgDQGcFmaJgB",
}

// DefaultElevenLabsVoice is the preset used when none is configured.
const DefaultElevenLabsVoice = "charlotte"

// ResolveElevenLabsVoice returns the voice ID for a preset name. Input
// that is not a known preset is assumed to already be a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if name == "" {
		name = DefaultElevenLabsVoice
	}
	if id, ok := elevenLabsPresets[name]; ok {
		return id
	}
	return name
}
