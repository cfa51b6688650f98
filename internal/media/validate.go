package media

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`(?i)^https?://(www\.)?youtube\.com/embed/[\w-]+`),
	regexp.MustCompile(`(?i)^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`(?i)^https?://(www\.)?youtube\.com/v/[\w-]+`),
}

// ValidateYouTubeURL accepts watch, embed, short and /v/ YouTube links
func ValidateYouTubeURL(raw string) error {
	url := strings.TrimSpace(raw)
	if url == "" {
		return types.Errorf(types.KindValidation, types.CodeMissingURL, "YouTube URL is required")
	}
	for _, p := range youtubePatterns {
		if p.MatchString(url) {
			return nil
		}
	}
	return types.Errorf(types.KindValidation, types.CodeInvalidURL,
		"Only YouTube URLs are supported. Please provide a valid YouTube video URL.")
}

var allowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/mpeg":      true,
	"video/quicktime": true,
	"video/x-msvideo": true,
	"video/x-ms-wmv":  true,
	"video/webm":      true,
	"video/ogg":       true,
}

// ValidateVideoType checks the declared content type of an uploaded file
func ValidateVideoType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedVideoTypes[strings.ToLower(mediaType)] {
		return types.Errorf(types.KindValidation, types.CodeInvalidFileType,
			"Invalid file type. Please upload a video file (mp4, mov, avi, wmv, webm, ogg).")
	}
	return nil
}

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".ogg":  "video/ogg",
}

// VideoTypeByExtension maps a file name to its whitelisted video type, or ""
func VideoTypeByExtension(name string) string {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}
