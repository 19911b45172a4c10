package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)

	data, err := codec.Marshal(&CreateRequest{Title: "A", Content: "B"})
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"A","content":"B"}`, string(data))

	var request CreateRequest
	require.NoError(t, codec.Unmarshal(data, &request))
	require.Equal(t, "A", request.Title)
}
