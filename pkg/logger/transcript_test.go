package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptSink_WritesAndArchivesOnce(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	sink, err := NewTranscriptSink(TranscriptConfig{Dir: dir, MaxSize: 1}, func(name, path string) {
		closed = append(closed, name+"|"+path)
	})
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }

	w, err := sink.Open("asr 1/a")
	require.NoError(t, err)
	tr := w.(*Transcript)
	assert.Equal(t, filepath.Join(dir, "asr_1_a_20261018_093000.000.log"), tr.Path())

	_, err = w.Write([]byte("login: admin\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	assert.Equal(t, "login: admin\r\n", string(data))
	assert.Equal(t, []string{"asr 1/a|" + tr.Path()}, closed)
}

func TestTranscriptSink_EmptyTranscriptSkipsHook(t *testing.T) {
	called := false
	sink, err := NewTranscriptSink(TranscriptConfig{Dir: t.TempDir()}, func(name, path string) { called = true })
	require.NoError(t, err)

	w, err := sink.Open("sw1")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.False(t, called)
}

func TestTranscriptSink_RequiresDir(t *testing.T) {
	_, err := NewTranscriptSink(TranscriptConfig{}, nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	out := "l1\nl2\nl3\nl4\nl5\n"
	s := Summarize(out, 2)
	assert.Equal(t, 5, s.Lines)
	assert.Equal(t, []string{"l1", "l2"}, s.Head)
	assert.Equal(t, []string{"l4", "l5"}, s.Tail)
}
