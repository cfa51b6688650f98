package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/video-summarizer/internal/logging"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

type fakeFolder struct {
	name, parent string
}

type fakeUpload struct {
	name, parent, mimeType, content string
}

type fakeDrive struct {
	folders   []fakeFolder
	uploads   []fakeUpload
	uploadErr error
}

func (f *fakeDrive) FindOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	f.folders = append(f.folders, fakeFolder{name: name, parent: parentID})
	return "id-" + name, nil
}

func (f *fakeDrive) CreateFile(_ context.Context, name, parentID, mimeType string, content io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, fakeUpload{name: name, parent: parentID, mimeType: mimeType, content: string(b)})
	return "file-" + name, nil
}

func testResult() *types.Result {
	return &types.Result{
		Transcript: "full transcript text",
		Summary:    "the short version",
		VideoInfo:  types.VideoInfo{Title: "Talk: Go/Redis?", Duration: types.IntPtr(12)},
	}
}

func TestExportUploadsIntoDatedFolders(t *testing.T) {
	fake := &fakeDrive{}
	e := newDriveExporter(fake, "Summaries", logging.Discard())
	e.now = func() time.Time { return time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC) }

	require.NoError(t, e.Export(context.Background(), "job-1", testResult()))

	assert.Equal(t, []fakeFolder{
		{name: "Summaries", parent: ""},
		{name: "2025", parent: "id-Summaries"},
		{name: "01", parent: "id-2025"},
		{name: "23", parent: "id-01"},
	}, fake.folders)

	require.Len(t, fake.uploads, 2)
	summary := fake.uploads[0]
	assert.Equal(t, "20250123_143022_Talk_ Go_Redis_.summary.md", summary.name)
	assert.Equal(t, "id-23", summary.parent)
	assert.Equal(t, "text/markdown", summary.mimeType)
	assert.True(t, strings.HasPrefix(summary.content, "# Talk: Go/Redis?\n"))
	assert.Contains(t, summary.content, "- Job: job-1\n")
	assert.Contains(t, summary.content, "- Duration: 12 minutes\n")
	assert.Contains(t, summary.content, "the short version")

	transcript := fake.uploads[1]
	assert.Equal(t, "20250123_143022_Talk_ Go_Redis_.transcript.txt", transcript.name)
	assert.Equal(t, "full transcript text", transcript.content)
}

func TestExportPropagatesUploadError(t *testing.T) {
	fake := &fakeDrive{uploadErr: errors.New("quota")}
	e := newDriveExporter(fake, "", logging.Discard())

	err := e.Export(context.Background(), "job-1", testResult())
	assert.EqualError(t, err, "quota")
	assert.Equal(t, "Video Summaries", fake.folders[0].name)
}

func TestRenderSummaryWithoutDuration(t *testing.T) {
	r := testResult()
	r.VideoInfo.Duration = nil
	out := renderSummary("job-2", r, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.NotContains(t, out, "Duration")
	assert.Contains(t, out, "- Summarized: 2025-01-01T00:00:00Z")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b\\c"))
	assert.Equal(t, "video", sanitizeFilename("   "))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("é", 150))), 100)
}

func TestTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"abc","token_type":"Bearer"}`), 0o600))

	tok, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	_, err = tokenFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewDriveClientMissingCredentials(t *testing.T) {
	_, err := NewDriveClient(context.Background(), filepath.Join(t.TempDir(), "none.json"), "token.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read credentials file")
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
}
