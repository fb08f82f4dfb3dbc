package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type buildEvent struct {
	result *Result
	err    error
}

func startWatcher(t *testing.T, p *Pipeline) <-chan buildEvent {
	t.Helper()

	w, err := NewWatcher(p, 100*time.Millisecond)
	require.NoError(t, err)

	events := make(chan buildEvent, 16)
	w.OnBuild(func(result *Result, err error) {
		events <- buildEvent{result: result, err: err}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	return events
}

func nextBuild(t *testing.T, events <-chan buildEvent) buildEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for build")
		return buildEvent{}
	}
}

func TestWatcher_rebuildsOnChange(t *testing.T) {
	dir := scenarioTree(t)
	events := startWatcher(t, newPipeline(t, scenarioConfig(dir)))

	first := nextBuild(t, events)
	require.NoError(t, first.err)
	require.Equal(t, iconSource, readFile(t, filepath.Join(dir, "build/icon.png")))

	writeTree(t, dir, map[string]string{"icon.png": "new icon"})

	second := nextBuild(t, events)
	require.NoError(t, second.err)
	require.Equal(t, "new icon", readFile(t, filepath.Join(dir, "build/icon.png")))
	require.NotEqual(t, first.result.BuildID, second.result.BuildID)
}

func TestWatcher_followsBundleInputs(t *testing.T) {
	dir := scenarioTree(t)
	events := startWatcher(t, newPipeline(t, scenarioConfig(dir)))

	require.NoError(t, nextBuild(t, events).err)

	writeTree(t, dir, map[string]string{"src/greet.js": `export function greet(name) {
  return "welcome " + name;
}
`})

	ev := nextBuild(t, events)
	require.NoError(t, ev.err)
	require.Contains(t, readFile(t, filepath.Join(dir, "build/index.js")), "welcome ")
}

func TestWatcher_recoversFromFailedBuild(t *testing.T) {
	dir := scenarioTree(t)
	events := startWatcher(t, newPipeline(t, scenarioConfig(dir)))

	require.NoError(t, nextBuild(t, events).err)

	writeTree(t, dir, map[string]string{"src/main.js": "const = ;\n"})
	failed := nextBuild(t, events)
	require.ErrorIs(t, failed.err, ErrBundle)
	require.Nil(t, failed.result)

	writeTree(t, dir, map[string]string{"src/main.js": entrySource})
	require.NoError(t, nextBuild(t, events).err)
}

func TestWatcher_noticesMissingDirectoryAppearing(t *testing.T) {
	dir := scenarioTree(t)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "src")))
	events := startWatcher(t, newPipeline(t, scenarioConfig(dir)))

	require.ErrorIs(t, nextBuild(t, events).err, ErrResolution)

	writeTree(t, dir, map[string]string{
		"src/main.js":  entrySource,
		"src/greet.js": greetSource,
	})

	// The directory and its files can surface as separate rebuilds
	var ev buildEvent
	for range 3 {
		if ev = nextBuild(t, events); ev.err == nil {
			break
		}
	}
	require.NoError(t, ev.err)
	require.FileExists(t, filepath.Join(dir, "build/index.js"))
}
