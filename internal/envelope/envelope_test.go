package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStampsChannelAndMeta(t *testing.T) {
	t.Parallel()

	meta := Meta{MetaContentID: "mp4-001", MetaContentVersion: "1.0.0"}
	env, err := New(meta, Location{Location: "video"}, time.UnixMilli(1700000000123))
	require.NoError(t, err)
	require.Equal(t, Channel, env.Channel)
	require.Equal(t, TypeLocation, env.Type)
	require.Equal(t, int64(1700000000123), env.TS)
	require.JSONEq(t, `{"location":"video"}`, string(env.Payload))

	meta[MetaContentID] = "mutated"
	require.Equal(t, "mp4-001", env.Meta.ContentID())
}

func TestDecodeRejectsForeignChannelBeforeType(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"channel":"OTHER","type":"NOT_A_TYPE"}`))
	require.ErrorIs(t, err, ErrForeignChannel)

	_, err = Decode([]byte(`{"type":"SESSION","payload":{"sessionId":"s"}}`))
	require.ErrorIs(t, err, ErrForeignChannel)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `hello`, want: ErrMalformed},
		{name: "array", raw: `[1,2]`, want: ErrMalformed},
		{name: "unknown type", raw: `{"channel":"MOVERON_POC","type":"PING"}`, want: ErrUnknownType},
		{name: "bad meta", raw: `{"channel":"MOVERON_POC","type":"READY","meta":7}`, want: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.raw))
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncodeDecodeCompletePayload(t *testing.T) {
	t.Parallel()

	env, err := New(NewMeta(), Complete{
		Completion:  true,
		Success:     true,
		ScoreRaw:    100,
		ScoreMax:    100,
		TotalTimeMs: 81000,
		Detail:      json.RawMessage(`{"visitedCount":8}`),
	}, time.Unix(10, 0))
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	payload, err := decoded.Decode()
	require.NoError(t, err)

	complete, ok := payload.(Complete)
	require.True(t, ok)
	require.True(t, complete.Completion)
	require.Equal(t, int64(81000), complete.TotalTimeMs)
	require.JSONEq(t, `{"visitedCount":8}`, string(complete.Detail))
}

func TestSessionKeepsExtraFields(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"channel":"MOVERON_POC","type":"SESSION","payload":{"sessionId":"abc","learner":"u1"}}`))
	require.NoError(t, err)
	payload, err := env.Decode()
	require.NoError(t, err)

	session := payload.(Session)
	require.Equal(t, "abc", session.SessionID)
	require.JSONEq(t, `"u1"`, string(session.Extra["learner"]))

	out, err := json.Marshal(session)
	require.NoError(t, err)
	require.JSONEq(t, `{"sessionId":"abc","learner":"u1"}`, string(out))
}

func TestPayloadValidation(t *testing.T) {
	t.Parallel()

	env := Envelope{Channel: Channel, Type: TypeSession, Payload: json.RawMessage(`{}`)}
	_, err := env.Decode()
	require.ErrorIs(t, err, ErrMalformed)

	env = Envelope{Channel: Channel, Type: TypeEvent, Payload: json.RawMessage(`{"data":1}`)}
	_, err = env.Decode()
	require.ErrorIs(t, err, ErrMalformed)

	env = Envelope{Channel: Channel, Type: TypeResumeRequest}
	payload, err := env.Decode()
	require.NoError(t, err)
	require.Equal(t, TypeResumeRequest, payload.Type())
}

func TestMetaMergeIsAdditive(t *testing.T) {
	t.Parallel()

	meta := Meta{"a": "1"}.Merge(Meta{"b": "2"})
	require.Equal(t, Meta{"a": "1", "b": "2"}, meta)

	meta = meta.Merge(Meta{"a": "3"})
	require.Equal(t, Meta{"a": "3", "b": "2"}, meta)
}

func TestTypeDirections(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeReady, TypeEvent, TypeLocation, TypeState, TypeResumeRequest, TypeSuspend, TypeComplete} {
		require.True(t, typ.Outbound(), typ)
		require.False(t, typ.Inbound(), typ)
	}
	for _, typ := range []Type{TypeSession, TypeResumeData} {
		require.True(t, typ.Inbound(), typ)
		require.False(t, typ.Outbound(), typ)
	}
	require.False(t, Type("PING").Known())
}
