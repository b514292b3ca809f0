// Speech synthesis tool backed by MiniMax TTS. Registered only when a
// MiniMax key is configured and a workspace exists to receive audio.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/tts"
)

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error)
}

// RegisterSpeech adds the synthesize_speech tool. Audio is written
// into the workspace so the model can reference it afterwards.
func RegisterSpeech(r *Registry, synth Synthesizer, ft *FileTools) error {
	if !ft.Enabled() {
		return fmt.Errorf("workspace not configured")
	}

	spec := llm.ToolSpec{
		Name:        "synthesize_speech",
		Description: "Convert text to spoken audio (MP3) and save it in the workspace.",
		Parameters: []llm.ToolParam{
			{Name: "text", Type: "string", Required: true, Description: "The text to speak"},
			{Name: "output_path", Type: "string", Required: true, Description: "Destination MP3 path relative to the workspace"},
			{Name: "voice_id", Type: "string", Description: "Voice to use (default from config)"},
		},
	}

	return r.Register(spec, func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		outputPath, _ := args["output_path"].(string)
		voiceID, _ := args["voice_id"].(string)

		audio, err := synth.Synthesize(ctx, text, tts.Options{VoiceID: voiceID})
		if err != nil {
			return "", err
		}

		absPath, err := ft.ResolvePath(outputPath)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(absPath, audio, 0644); err != nil {
			return "", fmt.Errorf("failed to write audio: %w", err)
		}

		return fmt.Sprintf("wrote %d bytes of audio to %s", len(audio), outputPath), nil
	})
}
