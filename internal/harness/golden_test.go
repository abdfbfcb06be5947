package harness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rengine/internal/protocol"
)

func TestTranscript(t *testing.T) {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 4, Kind: protocol.KindEvent, Name: protocol.TopicStateBusy, Payload: json.RawMessage(`{"unit": 1, "state": {"busy": true}}`)},
		{Seq: 6, Kind: protocol.KindConsole, Name: protocol.ConsolePrompt, Payload: json.RawMessage(`{"text":">>> "}`)},
		{Seq: 7, Kind: protocol.KindConsole, Name: protocol.ConsoleClear},
	}

	got, err := Transcript("demo", r)
	require.NoError(t, err)
	assert.Equal(t, "# demo\n"+
		`event State.Busy {"state":{"busy":true},"unit":1}`+"\n"+
		`console Prompt {"text":">>> "}`+"\n"+
		"console Clear -\n", string(got))
}

func TestTranscript_BadPayload(t *testing.T) {
	r := NewResult()
	r.Trace = []TraceEvent{{Seq: 1, Kind: protocol.KindEvent, Name: "X", Payload: json.RawMessage(`{`)}}
	_, err := Transcript("demo", r)
	assert.ErrorContains(t, err, "seq 1 X")
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "hello.golden"),
		GoldenPath(filepath.Join("scenarios", "hello.yaml")))
}

func TestCompareAndUpdateGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "x.golden")

	_, err := CompareGolden(path, []byte("a\n"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, UpdateGolden(path, []byte("a\n")))
	same, err := CompareGolden(path, []byte("a\n"))
	require.NoError(t, err)
	assert.True(t, same)

	same, err = CompareGolden(path, []byte("b\n"))
	require.NoError(t, err)
	assert.False(t, same)
}
