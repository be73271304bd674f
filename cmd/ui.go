package main

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/repochat/pkg/ingest"
)

func barWriter(quiet bool) io.Writer {
	if quiet {
		return io.Discard
	}
	return os.Stderr
}

func getProgressBar(total int, description string, quiet bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(barWriter(quiet)),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string, quiet bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(barWriter(quiet)),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

// stageBars shows one bar per ingestion stage, created when the stage
// reports its first progress.
type stageBars struct {
	quiet bool

	mu   sync.Mutex
	bars map[ingest.Stage]*progressbar.ProgressBar
}

func newStageBars(quiet bool) *stageBars {
	return &stageBars{quiet: quiet, bars: make(map[ingest.Stage]*progressbar.ProgressBar)}
}

var stageDescriptions = map[ingest.Stage]string{
	ingest.StageEmbed:  "🔄 Chunking and embedding files...",
	ingest.StageUpsert: "💾 Storing in vector database...",
}

func (s *stageBars) update(stage ingest.Stage, done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bar, ok := s.bars[stage]
	if !ok {
		for _, prev := range s.bars {
			prev.Finish()
		}
		bar = getProgressBar(total, stageDescriptions[stage], s.quiet)
		s.bars[stage] = bar
	}
	if done > int(bar.State().CurrentNum) {
		bar.Set(done)
	}
}

func (s *stageBars) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bar := range s.bars {
		bar.Finish()
	}
}
