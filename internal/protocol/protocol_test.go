package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	raw, err := Encode(EventJob, Job{JobID: "j1", Payload: "cmVjZWlwdA==", Format: FormatBase64})
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventJob, env.Event)

	var job Job
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, "cmVjZWlwdA==", job.Payload)
	assert.Equal(t, FormatBase64, job.Format)
}

func TestEncode_NilData(t *testing.T) {
	raw, err := Encode(EventConnected, nil)
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventConnected, env.Event)
	assert.Empty(t, env.Data)
}

func TestDecode_FieldNamesAreCamelCase(t *testing.T) {
	// Agents in the field depend on these exact key names.
	raw := []byte(`{"event":"result","data":{"jobId":"abc","success":true,"message":"printed"}}`)
	env, err := Decode(raw)
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "abc", res.JobID)
	assert.True(t, res.Success)
	assert.Equal(t, "printed", res.Message)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecode_MissingEvent(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	assert.Error(t, err)
}
