package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/testutil"
	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// RegisterPipelineSteps registers the orchestrator steps.
func (testCtx *TestContext) RegisterPipelineSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a video of (\d+) frames at gray level (\d+)$`, testCtx.aVideoOfFrames)
	sc.Step(`^a video of (\d+) frames at gray level (\d+) followed by (\d+) frames at gray level (\d+)$`, testCtx.aVideoOfTwoScenes)
	sc.Step(`^the video reports (\d+) total frames$`, testCtx.theVideoReportsTotalFrames)
	sc.Step(`^an image sequence of (\d+) frames at gray level (\d+) followed by (\d+) frames at gray level (\d+)$`, testCtx.anImageSequence)
	sc.Step(`^the detector fails with "([^"]*)"$`, testCtx.theDetectorFailsWith)
	sc.Step(`^a subscriber to run events$`, testCtx.aSubscriberToRunEvents)

	sc.Step(`^the video is processed$`, testCtx.theVideoIsProcessed)
	sc.Step(`^the sequence directory is processed$`, testCtx.theSequenceDirectoryIsProcessed)
	sc.Step(`^the video is processed again$`, testCtx.theVideoIsProcessedAgain)
	sc.Step(`^a missing video is processed$`, testCtx.aMissingVideoIsProcessed)

	sc.Step(`^the run state is "([^"]*)"$`, testCtx.theRunStateIs)
	sc.Step(`^detections are recorded at frames ([\d, ]+)$`, testCtx.detectionsAreRecordedAtFrames)
	sc.Step(`^no detections are recorded$`, testCtx.noDetectionsAreRecorded)
	sc.Step(`^no error is reported$`, testCtx.noErrorIsReported)
	sc.Step(`^the error mentions "([^"]*)"$`, testCtx.theErrorMentions)
	sc.Step(`^the error is attributed to frame (\d+) during "([^"]*)"$`, testCtx.theErrorIsAttributedTo)
	sc.Step(`^the detector ran on (\d+) frames?$`, testCtx.theDetectorRanOn)
	sc.Step(`^the progress is (\d+) percent$`, testCtx.theProgressIs)
	sc.Step(`^the subscriber saw states ([a-z, ]+)$`, testCtx.theSubscriberSawStates)
	sc.Step(`^the subscriber saw (\d+) "([^"]*)" events?$`, testCtx.theSubscriberSawEvents)
}

func (testCtx *TestContext) aVideoOfFrames(n, level int) error {
	testCtx.Frames = testutil.Repeat(testutil.Gray(uint8(level)), n)
	return nil
}

func (testCtx *TestContext) aVideoOfTwoScenes(n1, level1, n2, level2 int) error {
	testCtx.Frames = append(
		testutil.Repeat(testutil.Gray(uint8(level1)), n1),
		testutil.Repeat(testutil.Gray(uint8(level2)), n2)...)
	return nil
}

func (testCtx *TestContext) theVideoReportsTotalFrames(n int) error {
	testCtx.ReportTotal = &n
	return nil
}

// anImageSequence writes the frames as numbered PNGs so the real
// directory opener is exercised.
func (testCtx *TestContext) anImageSequence(n1, level1, n2, level2 int) error {
	dir := filepath.Join(testCtx.TempDir, "sequence")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	frames := append(
		testutil.Repeat(testutil.Gray(uint8(level1)), n1),
		testutil.Repeat(testutil.Gray(uint8(level2)), n2)...)
	for i, img := range frames {
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i+1))
		if err := utils.SavePNG(path, img); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	testCtx.SequenceDir = dir
	return nil
}

func (testCtx *TestContext) theDetectorFailsWith(msg string) error {
	testCtx.Detector.FailWith(errors.New(msg))
	return nil
}

func (testCtx *TestContext) ensureOrchestrator(opener video.Opener) *pipeline.Orchestrator {
	if testCtx.Orchestrator == nil {
		testCtx.Orchestrator = pipeline.NewOrchestrator(testCtx.Detector, testCtx.options(opener))
	}
	return testCtx.Orchestrator
}

func (testCtx *TestContext) aSubscriberToRunEvents() error {
	o := testCtx.ensureOrchestrator(testCtx.memoryOpener())
	events, cancel := o.Subscribe(256)
	testCtx.unsubscribe = cancel
	testCtx.recordEvents(events)
	return nil
}

func (testCtx *TestContext) process(path string, opener video.Opener) error {
	o := testCtx.ensureOrchestrator(opener)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	testCtx.LastError = o.ProcessVideo(ctx, path)
	return nil
}

func (testCtx *TestContext) theVideoIsProcessed() error {
	return testCtx.process("scenes.mp4", testCtx.memoryOpener())
}

func (testCtx *TestContext) theVideoIsProcessedAgain() error {
	if testCtx.Orchestrator == nil {
		return errors.New("no earlier run in this scenario")
	}
	return testCtx.process("scenes.mp4", nil)
}

func (testCtx *TestContext) theSequenceDirectoryIsProcessed() error {
	if testCtx.SequenceDir == "" {
		return errors.New("no image sequence was written")
	}
	return testCtx.process(testCtx.SequenceDir, video.NewOpener(video.Options{SequenceFPS: 25}))
}

func (testCtx *TestContext) aMissingVideoIsProcessed() error {
	path := filepath.Join(testCtx.TempDir, "missing.mp4")
	return testCtx.process(path, video.NewOpener(video.Options{}))
}

func (testCtx *TestContext) orchestrator() (*pipeline.Orchestrator, error) {
	if testCtx.Orchestrator == nil {
		return nil, errors.New("no video was processed")
	}
	return testCtx.Orchestrator, nil
}

func (testCtx *TestContext) theRunStateIs(want string) error {
	o, err := testCtx.orchestrator()
	if err != nil {
		return err
	}
	if got := o.State(); string(got) != want {
		return fmt.Errorf("state = %q, want %q (error: %v)", got, want, o.Err())
	}
	return nil
}

func parseInts(list string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func frameIndexes(dets []pipeline.Detection) []int {
	out := make([]int, len(dets))
	for i, d := range dets {
		out[i] = d.FrameIndex
	}
	return out
}

func (testCtx *TestContext) detectionsAreRecordedAtFrames(list string) error {
	want, err := parseInts(list)
	if err != nil {
		return err
	}
	o, err := testCtx.orchestrator()
	if err != nil {
		return err
	}
	got := frameIndexes(o.Detections())
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("detections at frames %v, want %v", got, want)
	}
	return nil
}

func (testCtx *TestContext) noDetectionsAreRecorded() error {
	o, err := testCtx.orchestrator()
	if err != nil {
		return err
	}
	if dets := o.Detections(); len(dets) != 0 {
		return fmt.Errorf("expected no detections, got frames %v", frameIndexes(dets))
	}
	return nil
}

func (testCtx *TestContext) noErrorIsReported() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("unexpected error: %w", testCtx.LastError)
	}
	if o, err := testCtx.orchestrator(); err == nil && o.Err() != nil {
		return fmt.Errorf("orchestrator kept error: %w", o.Err())
	}
	return nil
}

func (testCtx *TestContext) theErrorMentions(text string) error {
	if testCtx.LastError == nil {
		return errors.New("expected an error, got none")
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not mention %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theErrorIsAttributedTo(frame int, stage string) error {
	var fe *pipeline.FrameError
	if !errors.As(testCtx.LastError, &fe) {
		return fmt.Errorf("error %v is not a frame error", testCtx.LastError)
	}
	if fe.Frame != frame || string(fe.Stage) != stage {
		return fmt.Errorf("error attributed to frame %d during %q, want frame %d during %q", fe.Frame, fe.Stage, frame, stage)
	}
	return nil
}

func (testCtx *TestContext) theDetectorRanOn(n int) error {
	if got := testCtx.Detector.Calls(); got != n {
		return fmt.Errorf("detector ran on %d frames, want %d", got, n)
	}
	return nil
}

func (testCtx *TestContext) theProgressIs(percent int) error {
	o, err := testCtx.orchestrator()
	if err != nil {
		return err
	}
	got := o.Progress() * 100
	if diff := got - float64(percent); diff > 0.01 || diff < -0.01 {
		return fmt.Errorf("progress = %.2f%%, want %d%%", got, percent)
	}
	return nil
}

// collectedEvents stops the subscription and waits for the recorder to see
// everything already delivered.
func (testCtx *TestContext) collectedEvents() ([]pipeline.Event, error) {
	if testCtx.eventsDone == nil {
		return nil, errors.New("no subscriber in this scenario")
	}
	if testCtx.unsubscribe != nil {
		testCtx.unsubscribe()
		testCtx.unsubscribe = nil
	}
	<-testCtx.eventsDone
	return testCtx.Events(), nil
}

func (testCtx *TestContext) theSubscriberSawStates(list string) error {
	events, err := testCtx.collectedEvents()
	if err != nil {
		return err
	}
	var got []string
	for _, ev := range events {
		if ev.Type == pipeline.EventStateChanged {
			got = append(got, string(ev.Snapshot.State))
		}
	}
	var want []string
	for _, s := range strings.Split(list, ",") {
		want = append(want, strings.TrimSpace(s))
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("states %v, want %v", got, want)
	}
	return nil
}

func (testCtx *TestContext) theSubscriberSawEvents(n int, typ string) error {
	events, err := testCtx.collectedEvents()
	if err != nil {
		return err
	}
	count := 0
	for _, ev := range events {
		if string(ev.Type) == typ {
			count++
			if ev.Type == pipeline.EventDetectionAdded && ev.Detection == nil {
				return errors.New("detection_added event without a detection")
			}
		}
	}
	if count != n {
		return fmt.Errorf("saw %d %q events, want %d", count, typ, n)
	}
	return nil
}

