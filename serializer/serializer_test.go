package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlainPassesThroughUnchanged(t *testing.T) {
	p := Plain{}
	out, err := p.Serialize([]byte("\x00binary\xff"))
	require.NoError(t, err)
	require.Equal(t, []byte("\x00binary\xff"), out)

	back, err := p.Deserialize(out)
	require.NoError(t, err)
	require.Equal(t, out, back)
}

func TestJSONNormalizesWhitespace(t *testing.T) {
	j := JSON{}
	out, err := j.Serialize([]byte(`{  "a" : 1,   "b": [1,2,3]  }`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":[1,2,3]}`, string(out))
	require.Equal(t, `{"a":1,"b":[1,2,3]}`, string(out))
}

func TestJSONRejectsMalformedInput(t *testing.T) {
	j := JSON{}
	_, err := j.Serialize([]byte(`{not valid json`))
	require.Error(t, err)

	var rejected *ErrRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "json", rejected.Serializer)
}

func TestByNameResolvesKnownAndDefaultsUnknown(t *testing.T) {
	require.Equal(t, "json", ByName("json").Name())
	require.Equal(t, "plain", ByName("plain").Name())
	require.Equal(t, "plain", ByName("nonsense").Name())
}
