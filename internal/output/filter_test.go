package output

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func runChunks(t *testing.T, f *Filter, role Role, id string, chunks ...string) error {
	t.Helper()
	pr, pw := io.Pipe()
	done := f.Attach(context.Background(), pr, role, id)
	for _, c := range chunks {
		_, err := pw.Write([]byte(c))
		require.NoError(t, err)
	}
	pw.Close()
	return <-done
}

func TestStripControl(t *testing.T) {
	assert.Equal(t, "hello123", StripControl("hello123\n"))
	assert.Equal(t, "ab", StripControl("\x00a\x1f\x7fb\u0085\u009f"))
	assert.Equal(t, "héllo ✓", StripControl("héllo ✓\r\n"))
	assert.Equal(t, "", StripControl("\x01\x02\x03"))
}

func TestMarkerClassifier(t *testing.T) {
	c := DefaultClassifier()
	assert.True(t, c.Keep("hello123"))
	assert.False(t, c.Keep(""))
	assert.False(t, c.Keep("!!! ..."))
	assert.False(t, c.Keep("> node index.js"))
	assert.False(t, c.Keep("docker-entrypoint"))

	custom := MarkerClassifier{Markers: []string{"npm"}}
	assert.True(t, custom.Keep("node says hi"))
	assert.False(t, custom.Keep("npm WARN"))
}

func TestClassifierFunc(t *testing.T) {
	var c Classifier = ClassifierFunc(func(s string) bool { return s == "keep" })
	assert.True(t, c.Keep("keep"))
	assert.False(t, c.Keep("drop"))
}

func TestAttachForwardsProgramOutput(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", "hello123").Return(nil).Once()

	err := runChunks(t, f, RoleContainerRun, "abc", "hello123\n")
	require.NoError(t, err)

	sink.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "AppendOutput", 1)
}

func TestAttachIgnoresNoise(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())

	err := runChunks(t, f, RoleContainerRun, "abc", "", "\x01\x02\n", "> node index.js\n", "docker\n")
	require.NoError(t, err)

	sink.AssertNotCalled(t, "AppendOutput", mock.Anything, mock.Anything, mock.Anything)
	out, ok := f.Output("abc")
	assert.True(t, ok)
	assert.Empty(t, out)
}

func TestAttachAccumulatesOutput(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", "1").Return(nil).Once()
	sink.On("AppendOutput", mock.Anything, "abc", "12").Return(nil).Once()

	err := runChunks(t, f, RoleContainerRun, "abc", "1\n", "2\n")
	require.NoError(t, err)

	sink.AssertExpectations(t)
	out, _ := f.Output("abc")
	assert.Equal(t, "12", out)
}

func TestAttachResetsBufferPerStream(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", mock.Anything).Return(nil)

	require.NoError(t, runChunks(t, f, RoleContainerRun, "abc", "first"))
	require.NoError(t, runChunks(t, f, RoleContainerRun, "abc", "second"))

	out, _ := f.Output("abc")
	assert.Equal(t, "second", out)
	sink.AssertCalled(t, "AppendOutput", mock.Anything, "abc", "second")
}

func TestAttachIgnoresSupersededStream(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", "new").Return(nil).Once()

	oldR, oldW := io.Pipe()
	oldDone := f.Attach(context.Background(), oldR, RoleContainerRun, "abc")

	require.NoError(t, runChunks(t, f, RoleContainerRun, "abc", "new"))

	_, err := oldW.Write([]byte("stale"))
	require.NoError(t, err)
	oldW.Close()
	require.NoError(t, <-oldDone)

	sink.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "AppendOutput", 1)
}

func TestAttachImageBuildDoesNotWriteOutput(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())

	err := runChunks(t, f, RoleImageBuild, "abc", "Step 1/6 : FROM base\n", "hello123\n")
	require.NoError(t, err)

	sink.AssertNotCalled(t, "AppendOutput", mock.Anything, mock.Anything, mock.Anything)
	_, ok := f.Output("abc")
	assert.False(t, ok)
}

func TestAttachStreamError(t *testing.T) {
	f := NewFilter(&MockSink{}, nil, testLogger())
	streamErr := errors.New("connection reset")

	done := f.Attach(context.Background(), iotest.ErrReader(streamErr), RoleContainerRun, "abc")
	err := <-done
	assert.ErrorIs(t, err, streamErr)

	_, open := <-done
	assert.False(t, open, "completion channel should be closed after the result")
}

func TestAttachSinkErrorDoesNotStopStream(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", mock.Anything).Return(errors.New("write failed"))

	err := runChunks(t, f, RoleContainerRun, "abc", "a1", "b2")
	require.NoError(t, err)
	sink.AssertNumberOfCalls(t, "AppendOutput", 2)
}

func TestAttachLimit(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	f.SetLimit(5)
	sink.On("AppendOutput", mock.Anything, "abc", "abc").Return(nil).Once()
	sink.On("AppendOutput", mock.Anything, "abc", "abcde").Return(nil).Once()

	err := runChunks(t, f, RoleContainerRun, "abc", "abc", "defgh", "ijk")
	require.NoError(t, err)

	sink.AssertExpectations(t)
	out, _ := f.Output("abc")
	assert.Equal(t, "abcde", out)
}

func TestRelease(t *testing.T) {
	f := NewFilter(nil, nil, testLogger())
	require.NoError(t, runChunks(t, f, RoleContainerRun, "abc", "x1"))

	_, ok := f.Output("abc")
	require.True(t, ok)

	f.Release("abc")
	_, ok = f.Output("abc")
	assert.False(t, ok)
}

func TestAttachReadsWholeReader(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", "line1line2").Return(nil).Once()

	done := f.Attach(context.Background(), strings.NewReader("line1\nline2\n"), RoleContainerRun, "abc")
	require.NoError(t, <-done)
	sink.AssertExpectations(t)
}

func TestMultiSink(t *testing.T) {
	a, b := &MockSink{}, &MockSink{}
	a.On("AppendOutput", mock.Anything, "id", "out").Return(errors.New("a down"))
	b.On("AppendOutput", mock.Anything, "id", "out").Return(nil)

	err := MultiSink{a, b}.AppendOutput(context.Background(), "id", "out")
	assert.ErrorContains(t, err, "a down")
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestAttachJoinsRuneSplitAcrossReads(t *testing.T) {
	sink := &MockSink{}
	f := NewFilter(sink, nil, testLogger())
	sink.On("AppendOutput", mock.Anything, "abc", mock.Anything).Return(nil)

	text := []byte("hello wörld")
	cut := strings.Index(string(text), "ö") + 1
	err := runChunks(t, f, RoleContainerRun, "abc", string(text[:cut]), string(text[cut:]))
	require.NoError(t, err)

	out, ok := f.Output("abc")
	require.True(t, ok)
	assert.Equal(t, "hello wörld", out)
	assert.NotContains(t, out, "�")
}

func TestAttachFlushesTruncatedRuneAtEOF(t *testing.T) {
	f := NewFilter(nil, nil, testLogger())

	err := runChunks(t, f, RoleContainerRun, "abc", "abc\xc3")
	require.NoError(t, err)

	out, _ := f.Output("abc")
	assert.True(t, strings.HasPrefix(out, "abc"))
}

func TestSplitIncompleteRune(t *testing.T) {
	complete, rest := splitIncompleteRune([]byte("ab\xe2\x9c"))
	assert.Equal(t, "ab", string(complete))
	assert.Equal(t, "\xe2\x9c", string(rest))

	complete, rest = splitIncompleteRune([]byte("ab✓"))
	assert.Equal(t, "ab✓", string(complete))
	assert.Empty(t, rest)

	complete, rest = splitIncompleteRune([]byte("ab\x9c"))
	assert.Equal(t, "ab\x9c", string(complete))
	assert.Empty(t, rest)
}
