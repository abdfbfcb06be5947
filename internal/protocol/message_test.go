package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestAndReply(t *testing.T) {
	req, err := NewRequest(VerbPush, Push{Line: "x = 1"})
	require.NoError(t, err)
	req.From, req.To = "console", "engine"
	require.NoError(t, req.Validate())

	id, err := uuid.Parse(req.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	p, err := DecodeAs[Push](req)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", p.Line)

	reply, err := req.Reply(Success{OK: true})
	require.NoError(t, err)
	assert.Equal(t, KindReply, reply.Kind)
	assert.Equal(t, req.ID, reply.ReplyTo)
	assert.Equal(t, "engine", reply.From)
	assert.Equal(t, "console", reply.To)
	assert.NoError(t, reply.Err())
	require.NoError(t, reply.Validate())
}

func TestErrorReply(t *testing.T) {
	req := MustRequest(VerbRunTask, RunTask{Name: "t"})
	reply := req.ErrorReply(errors.New("task: unknown task: t"))

	var remote *RemoteError
	require.ErrorAs(t, reply.Err(), &remote)
	assert.Equal(t, VerbRunTask, remote.Verb)
	assert.Equal(t, "RunTask: task: unknown task: t", reply.Err().Error())
}

func TestDecodeMalformed(t *testing.T) {
	m := Message{ID: "1", Kind: KindRequest, Name: VerbPush, Payload: json.RawMessage(`{"line": 3}`)}
	_, err := DecodeAs[Push](m)
	assert.ErrorIs(t, err, ErrMalformed)

	empty := Message{ID: "2", Kind: KindRequest, Name: VerbGetState}
	s, err := DecodeAs[State](empty)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"missing id", Message{Kind: KindEvent, Name: TopicStateBusy}},
		{"bad kind", Message{ID: "1", Kind: "gossip", Name: TopicStateBusy}},
		{"missing name", Message{ID: "1", Kind: KindEvent}},
		{"orphan reply", Message{ID: "1", Kind: KindReply, Name: VerbPush}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.msg.Validate(), ErrMalformed)
		})
	}
}

func TestEnvelopeJSON(t *testing.T) {
	m := Message{ID: "id-1", Kind: KindEvent, Name: TopicStateChange, Payload: json.RawMessage(`{"busy":true}`)}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id-1","kind":"event","name":"State.Change","payload":{"busy":true}}`, string(b))
}

func TestVocabularyHasNoDuplicates(t *testing.T) {
	seen := map[string]bool{}
	for _, v := range append(Verbs(), Topics()...) {
		assert.False(t, seen[v], "duplicate %s", v)
		seen[v] = true
	}
}
