package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

const creditsDetails = "The OpenAI API key credits are empty or invalid. Please contact the owner to add credits to their OpenAI account."

// writeError renders a classified error with the status its kind implies.
// Unclassified errors become a 500 with fallbackCode.
func writeError(c *fiber.Ctx, err error, fallbackCode string) error {
	e, ok := types.AsError(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"code":  fallbackCode,
		})
	}

	body := fiber.Map{
		"error": e.Message,
		"code":  e.Code,
	}
	status := fiber.StatusInternalServerError

	switch e.Kind {
	case types.KindValidation:
		status = fiber.StatusBadRequest
	case types.KindGate:
		switch e.Code {
		case types.CodeInvalidAPIKey, types.CodeNoCredits, types.CodeRateLimited:
			status = fiber.StatusServiceUnavailable
			body["details"] = creditsDetails
		default:
			status = fiber.StatusBadRequest
		}
	case types.KindToolMissing:
		status = fiber.StatusBadRequest
		if e.Code == types.CodeYtDlpNotInstalled {
			body["details"] = "Install yt-dlp or use \"Upload Video\" to summarize a file from your computer instead."
		} else {
			body["details"] = "Install ffmpeg or submit a YouTube URL instead."
		}
	case types.KindExternal:
		if e.Code == types.CodeVideoInfo {
			status = fiber.StatusBadRequest
			body["details"] = "Could not retrieve video details. Please check the URL."
		} else {
			status = fiber.StatusBadGateway
		}
	}

	return c.Status(status).JSON(body)
}
