package transcription

import (
	"fmt"
	"os"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// checkAudio verifies the file exists and fits the upload cap of the
// speech-to-text API. It returns the file size in bytes.
func checkAudio(stat func(string) (os.FileInfo, error), path string, maxBytes int64) (int64, error) {
	info, err := stat(path)
	if err != nil || info.IsDir() {
		return 0, types.NewError(types.KindResource, types.CodeFileNotFound,
			fmt.Sprintf("Audio file not found: %s", path), err)
	}

	size := info.Size()
	if maxBytes > 0 && size > maxBytes {
		return size, types.Errorf(types.KindGate, types.CodeAudioTooLarge,
			"Audio file too large for transcription (%.1fMB). Maximum supported size is %dMB.",
			float64(size)/(1024*1024), maxBytes/(1024*1024))
	}
	return size, nil
}
