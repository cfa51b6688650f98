package types

// Stage names reported in job progress
type Stage string

const (
	StagePending          Stage = "pending"
	StageCheckingCredits  Stage = "checking_credits"
	StageCheckingDuration Stage = "checking_duration"
	StageDownloading      Stage = "downloading"
	StageExtractingAudio  Stage = "extracting_audio"
	StageTranscribing     Stage = "transcribing"
	StageSummarizing      Stage = "summarizing"
	StageCompleted        Stage = "completed"
)

// Job name used for every summarization job
const JobNameSummarizeVideo = "summarize-video"

// VideoInfo describes the source video. Duration is in minutes and nil
// when unknown (uploads).
type VideoInfo struct {
	Title    string `json:"title"`
	Duration *int   `json:"duration"`
}

// Result is attached to a job when it completes
type Result struct {
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary"`
	VideoInfo  VideoInfo `json:"videoInfo"`
}

// DurationMinutes converts seconds into whole minutes, rounding up
func DurationMinutes(seconds float64) int {
	m := int(seconds / 60)
	if float64(m*60) < seconds {
		m++
	}
	return m
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
