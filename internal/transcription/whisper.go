package transcription

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/llm"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// SpeechToText is the external transcription capability
type SpeechToText interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// WhisperTranscriber sends one audio file per call to the Whisper API.
// The audio is not split; files above the size cap are rejected up front.
type WhisperTranscriber struct {
	client   SpeechToText
	maxBytes int64
	stat     func(name string) (os.FileInfo, error)
	logger   logrus.FieldLogger
}

// NewWhisperTranscriber creates a new transcriber
func NewWhisperTranscriber(client SpeechToText, maxAudioMB int, logger logrus.FieldLogger) *WhisperTranscriber {
	return &WhisperTranscriber{
		client:   client,
		maxBytes: int64(maxAudioMB) * 1024 * 1024,
		stat:     os.Stat,
		logger:   logger,
	}
}

// Transcribe returns the transcript of the audio at path. onProgress gets
// stage-local fractions in [0,1]; it may be nil.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, path string, onProgress func(float64)) (string, error) {
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	size, err := checkAudio(wt.stat, path, wt.maxBytes)
	if err != nil {
		return "", err
	}

	wt.logger.WithFields(logrus.Fields{"path": path, "bytes": size}).Info("Transcribing audio")
	report(0.1)

	text, err := wt.client.TranscribeFile(ctx, path)
	if err != nil {
		if llm.Classify(err) == llm.ClassInvalidKey {
			return "", types.NewError(types.KindGate, types.CodeInvalidAPIKey,
				"Invalid OpenAI API key. Please check your configuration.", err)
		}
		return "", types.NewError(types.KindExternal, types.CodeTranscriptionFailed,
			"Transcription failed: "+llm.Message(err), err)
	}

	report(0.9)
	wt.logger.WithField("chars", len(text)).Info("Transcription completed")
	report(1.0)
	return text, nil
}
