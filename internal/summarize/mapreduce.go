package summarize

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/video-summarizer/internal/llm"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

const (
	systemPrompt = "You are a helpful assistant that creates clear, concise summaries with bullet points."
	userPrompt   = "Summarize this text clearly with bullet points:\n"
)

// Completer is the external text-completion capability
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Summarizer runs map-reduce summarization over word-bounded chunks
type Summarizer struct {
	completer Completer
	chunkSize int
	logger    logrus.FieldLogger
}

// NewSummarizer creates a new summarizer
func NewSummarizer(completer Completer, chunkSize int, logger logrus.FieldLogger) *Summarizer {
	return &Summarizer{completer: completer, chunkSize: chunkSize, logger: logger}
}

// Summarize maps every chunk concurrently, then reduces the ordered chunk
// summaries with one more call when there is more than one chunk. Any
// failed call aborts the whole stage.
func (s *Summarizer) Summarize(ctx context.Context, text string, onProgress func(float64)) (string, error) {
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	chunks := ChunkText(text, s.chunkSize)
	if len(chunks) == 0 {
		return "", types.Errorf(types.KindExternal, types.CodeSummarizeFailed,
			"Failed to summarize transcript: transcript is empty")
	}
	s.logger.WithField("chunks", len(chunks)).Info("Summarizing transcript (map-reduce)")
	report(0.1)

	summaries := make([]string, len(chunks))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			summary, err := s.completer.Complete(gctx, systemPrompt, userPrompt+chunk)
			if err != nil {
				return err
			}
			summaries[i] = summary

			mu.Lock()
			done++
			report(0.1 + float64(done)/float64(len(chunks))*0.6)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", failed(err)
	}
	report(0.7)

	if len(chunks) == 1 {
		report(1.0)
		return summaries[0], nil
	}

	s.logger.Info("Creating final summary from chunk summaries")
	report(0.85)
	final, err := s.completer.Complete(ctx, systemPrompt, userPrompt+strings.Join(summaries, "\n\n"))
	if err != nil {
		return "", failed(err)
	}
	report(1.0)
	return final, nil
}

func failed(err error) error {
	return types.NewError(types.KindExternal, types.CodeSummarizeFailed,
		"Failed to summarize transcript: "+llm.Message(err), err)
}
