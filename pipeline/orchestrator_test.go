package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"ytsheets/dedup"
	"ytsheets/internal/logger"
)

func newTestOrchestrator(src *fakeSource, dest *fakeDest, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return New(src, dest, DefaultConfig(), deps)
}

func runConfig(channels ...string) RunConfig {
	return RunConfig{
		Channels:    channels,
		Filter:      FilterSpec{MaxResults: 50},
		Destination: Destination{SpreadsheetID: "sheet", Tab: "Videos"},
	}
}

func TestWorkerCount(t *testing.T) {
	o := newTestOrchestrator(newFakeSource(), &fakeDest{}, Deps{})
	tests := []struct {
		channels, want int
	}{
		{0, 1},
		{1, 1},
		{3, 3},
		{8, 5},
		{16, 8},
		{40, 10},
	}
	for _, tt := range tests {
		if got := o.WorkerCount(tt.channels); got != tt.want {
			t.Errorf("WorkerCount(%d) = %d, want %d", tt.channels, got, tt.want)
		}
	}
}

func TestBatchSize(t *testing.T) {
	o := newTestOrchestrator(newFakeSource(), &fakeDest{}, Deps{})
	tests := []struct {
		estimated, want int
	}{
		{0, 10},
		{50, 10},
		{250, 25},
		{1000, 100},
		{100000, 500},
	}
	for _, tt := range tests {
		if got := o.BatchSize(tt.estimated); got != tt.want {
			t.Errorf("BatchSize(%d) = %d, want %d", tt.estimated, got, tt.want)
		}
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dest := &fakeDest{}
	o := newTestOrchestrator(newFakeSource(), dest, Deps{})

	rc := runConfig()
	res, err := o.Run(context.Background(), rc)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
	if res != nil {
		t.Errorf("Run() result = %+v, want nil", res)
	}
	if dest.writes != 0 || dest.ensured != 0 {
		t.Error("destination touched before validation passed")
	}
}

func TestRunPartialFailure(t *testing.T) {
	src := newFakeSource()
	var channels []string
	for _, s := range []string{"0001", "0002", "0003", "0004", "0005"} {
		id := channelID(s)
		src.addChannel(id, 2)
		channels = append(channels, id)
	}
	src.failList[channels[2]] = errors.New("listing exploded")

	dest := &fakeDest{}
	var progress []Progress
	o := newTestOrchestrator(src, dest, Deps{
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})

	res, err := o.Run(context.Background(), runConfig(channels...))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if res.ChannelsProcessed != 5 || res.ChannelsFailed != 1 {
		t.Errorf("channels processed/failed = %d/%d, want 5/1", res.ChannelsProcessed, res.ChannelsFailed)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], channels[2]) {
		t.Errorf("Errors = %v, want one naming %s", res.Errors, channels[2])
	}
	if res.VideosProcessed != 8 || res.VideosWritten != 8 {
		t.Errorf("processed/written = %d/%d, want 8/8", res.VideosProcessed, res.VideosWritten)
	}
	if !res.HasWarnings() || !res.IsComplete() {
		t.Errorf("HasWarnings = %v, IsComplete = %v", res.HasWarnings(), res.IsComplete())
	}
	if rate, ok := res.SuccessRate(); !ok || rate != 1 {
		t.Errorf("SuccessRate() = %v, %v", rate, ok)
	}
	if res.RunID == "" || res.EndedAt.Before(res.StartedAt) {
		t.Errorf("RunID = %q, StartedAt = %v, EndedAt = %v", res.RunID, res.StartedAt, res.EndedAt)
	}
	// list + hydrate for four channels, list for the failed one.
	if res.QuotaUsed != 9 {
		t.Errorf("QuotaUsed = %d, want 9", res.QuotaUsed)
	}

	if len(progress) != 5 {
		t.Fatalf("progress reports = %d, want 5", len(progress))
	}
	last := progress[4]
	if last.ChannelsProcessed != 5 || last.Percent != 100 || last.RunID != res.RunID {
		t.Errorf("last progress = %+v", last)
	}
}

func TestRunFailsBelowThreshold(t *testing.T) {
	src := newFakeSource()
	a, b := channelID("0001"), channelID("0002")
	src.addChannel(a, 1)
	src.failList[b] = errors.New("nope")

	res, err := newTestOrchestrator(src, &fakeDest{}, Deps{}).Run(context.Background(), runConfig(a, b))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if !res.IsComplete() || res.HasWarnings() {
		t.Errorf("IsComplete = %v, HasWarnings = %v", res.IsComplete(), res.HasWarnings())
	}
}

func TestRunFlushesExactBatches(t *testing.T) {
	src := newFakeSource()
	var channels []string
	for _, s := range []string{"0001", "0002", "0003", "0004", "0005"} {
		id := channelID(s)
		src.addChannel(id, 5)
		channels = append(channels, id)
	}

	dest := &fakeDest{created: true}
	o := newTestOrchestrator(src, dest, Deps{})
	rc := runConfig(channels...)
	rc.BatchSize = 10
	rc.Destination.CreateIfMissing = true

	res, err := o.Run(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := dest.batchSizes(), []int{10, 10, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("batch sizes = %v, want %v", got, want)
	}
	if res.VideosWritten != 25 || res.BatchesWritten != 3 {
		t.Errorf("written = %d in %d batches, want 25 in 3", res.VideosWritten, res.BatchesWritten)
	}
	if dest.formats != 1 {
		t.Errorf("formatting applied %d times, want 1", dest.formats)
	}
	if dest.ensured != 1 {
		t.Errorf("EnsureTab called %d times, want 1", dest.ensured)
	}
}

func TestRunSkipsExistingRows(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	vids := src.addChannel(id, 4)

	dest := &fakeDest{existing: []string{vids[0].ID, vids[3].ID}}
	res, err := newTestOrchestrator(src, dest, Deps{Dedup: dedup.New()}).Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if res.VideosWritten != 2 || res.DuplicatesSkipped != 2 {
		t.Errorf("written = %d, duplicates = %d, want 2 and 2", res.VideosWritten, res.DuplicatesSkipped)
	}
}

func TestRunWriteFailureNotCounted(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 15)

	dest := &fakeDest{failWrite: map[int]error{1: errors.New("sheet locked")}}
	rc := runConfig(id)
	rc.BatchSize = 10

	res, err := newTestOrchestrator(src, dest, Deps{}).Run(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if res.VideosProcessed != 15 || res.VideosWritten != 5 || res.BatchesWritten != 1 {
		t.Errorf("processed = %d, written = %d, batches = %d, want 15, 5, 1",
			res.VideosProcessed, res.VideosWritten, res.BatchesWritten)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "sheet locked") {
		t.Errorf("Errors = %v", res.Errors)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
}

func TestRunRetriesVideosOfFailedWrite(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 5)

	dest := &fakeDest{failWrite: map[int]error{1: errors.New("sheet locked")}}
	o := newTestOrchestrator(src, dest, Deps{})

	first, err := o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if first.VideosWritten != 0 || len(first.Errors) != 1 {
		t.Fatalf("first run: written = %d, errors = %v", first.VideosWritten, first.Errors)
	}

	second, err := o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if second.VideosProcessed != 5 || second.VideosWritten != 5 || second.DuplicatesSkipped != 0 {
		t.Errorf("second run: processed = %d, written = %d, duplicates = %d, want 5, 5, 0",
			second.VideosProcessed, second.VideosWritten, second.DuplicatesSkipped)
	}
	if got := dest.batchSizes(); !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("batches = %v, want [5]", got)
	}
}

func TestRunRetriesVideosLeftByCancel(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 3)

	dest := &fakeDest{}
	o := newTestOrchestrator(src, dest, Deps{})
	o.progress = func(Progress) { o.Cancel() }

	first, err := o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != StatusCancelled || first.VideosWritten != 0 {
		t.Fatalf("first run: status = %s, written = %d", first.Status, first.VideosWritten)
	}

	o.progress = nil
	second, err := o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != StatusCompleted || second.VideosWritten != 3 {
		t.Errorf("second run: status = %s, written = %d, want completed, 3", second.Status, second.VideosWritten)
	}
}

func TestRunCancelBeforeStart(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 3)

	dest := &fakeDest{}
	o := newTestOrchestrator(src, dest, Deps{})
	o.Cancel()

	res, err := o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCancelled || res.ChannelsProcessed != 0 {
		t.Errorf("Status = %s, processed = %d, want cancelled, 0", res.Status, res.ChannelsProcessed)
	}
	if _, list, _ := src.calls(); list != 0 {
		t.Errorf("listed %d channels after Cancel", list)
	}
	if o.Cancelled() {
		t.Error("cancellation still pending after the run")
	}

	res, err = o.Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || res.VideosWritten != 3 {
		t.Errorf("next run: status = %s, written = %d", res.Status, res.VideosWritten)
	}
}

func TestRunNoFormattingWhenNothingWritten(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 0)

	dest := &fakeDest{}
	res, err := newTestOrchestrator(src, dest, Deps{}).Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if dest.formats != 0 {
		t.Errorf("formatting applied %d times, want 0", dest.formats)
	}
	if _, ok := res.SuccessRate(); ok {
		t.Error("SuccessRate defined with nothing processed")
	}
}

func TestRunFormattingFailureRecorded(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 3)

	dest := &fakeDest{formatErr: errors.New("bad request")}
	res, err := newTestOrchestrator(src, dest, Deps{}).Run(context.Background(), runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "formatting") {
		t.Errorf("Errors = %v", res.Errors)
	}
}

func TestRunAppliesDelayHint(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 1)

	ds := &delayRecorder{}
	rc := runConfig(id)
	rc.RequestDelay = 250 * time.Millisecond

	if _, err := newTestOrchestrator(src, &fakeDest{}, Deps{Delay: ds}).Run(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	if ds.got != 250*time.Millisecond {
		t.Errorf("SetDelay(%v), want 250ms", ds.got)
	}
}

type delayRecorder struct{ got time.Duration }

func (d *delayRecorder) SetDelay(v time.Duration) { d.got = v }

func TestRunCancel(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})

	var channels []string
	for _, s := range []string{"0001", "0002", "0003", "0004", "0005", "0006", "0007", "0008", "0009", "0010", "0011", "0012"} {
		id := channelID(s)
		src.addChannel(id, 3)
		channels = append(channels, id)
	}

	dest := &fakeDest{}
	o := newTestOrchestrator(src, dest, Deps{})

	var once sync.Once
	o.progress = func(Progress) {
		once.Do(o.Cancel)
	}

	done := make(chan *RunResult)
	go func() {
		res, err := o.Run(context.Background(), runConfig(channels...))
		if err != nil {
			t.Error(err)
		}
		done <- res
	}()

	// Let the first wave of fetches through.
	close(src.block)

	var res *RunResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	if res.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}
	if res.ChannelsProcessed == 0 || res.ChannelsProcessed > len(channels) {
		t.Errorf("ChannelsProcessed = %d", res.ChannelsProcessed)
	}
	if o.Cancelled() {
		t.Error("Cancelled() = true after the run finished")
	}
	if dest.formats != 0 {
		t.Error("formatting applied after cancellation")
	}
	if len(dest.batchSizes()) != 0 {
		t.Errorf("batches written after cancellation: %v", dest.batchSizes())
	}
}

func TestRunContextCancelled(t *testing.T) {
	src := newFakeSource()
	id := channelID("0001")
	src.addChannel(id, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestOrchestrator(src, &fakeDest{}, Deps{}).Run(ctx, runConfig(id))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}
	if res.VideosWritten != 0 {
		t.Errorf("VideosWritten = %d, want 0", res.VideosWritten)
	}
}
