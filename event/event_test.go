package event

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicview/go-topicview/errs"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{path: "", want: nil},
		{path: "a", want: []string{"a"}},
		{path: "a/b/c", want: []string{"a", "b", "c"}},
		{path: "/a/b", want: []string{"a", "b"}},
		{path: "a//b", want: []string{"a", "", "b"}},
		{path: "a/b/", want: []string{"a", "b", ""}},
		{path: "//a", want: []string{"", "a"}},
		{path: "/", want: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.path))
		})
	}
}

func TestDecode(t *testing.T) {
	d, err := Decode(Raw{Path: "/a/b", Payload: base64.StdEncoding.EncodeToString([]byte("21.5"))})
	require.NoError(t, err)
	assert.Equal(t, "/a/b", d.Path)
	assert.Equal(t, []string{"a", "b"}, d.Segments)
	assert.Equal(t, "21.5", d.Value)
	assert.NoError(t, d.Err)
}

func TestDecodeUnpadded(t *testing.T) {
	d, err := Decode(Raw{Path: "a", Payload: base64.RawStdEncoding.EncodeToString([]byte("on"))})
	require.NoError(t, err)
	assert.Equal(t, "on", d.Value)
}

func TestDecodeMalformedPayload(t *testing.T) {
	d, err := Decode(Raw{Path: "a/b", Payload: "not-base64!!"})
	require.Error(t, err)

	var derr *errs.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "a/b", derr.Path)

	// structure survives the failure
	assert.Equal(t, []string{"a", "b"}, d.Segments)
	assert.Empty(t, d.Value)
	assert.Equal(t, err, d.Err)
}

func TestDecodeInvalidUTF8IsLossy(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{name: "single invalid byte", payload: []byte{'o', 'k', 0xff, '!'}, want: "ok\uFFFD!"},
		{name: "run of invalid bytes", payload: []byte{'x', 0xff, 0xfe, 'y'}, want: "x\uFFFD\uFFFDy"},
		{name: "valid multibyte kept", payload: []byte("é\xff"), want: "é\uFFFD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(Encode("a", tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Value)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	raw := Encode("x/y", []byte("hello"))
	assert.Equal(t, "aGVsbG8=", raw.Payload)

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", d.Value)
}
