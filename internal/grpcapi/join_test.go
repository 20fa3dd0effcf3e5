package grpcapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinClusterRejectsWithoutTransport(t *testing.T) {
	srv := &Server{dispatcher: &stubDispatcher{}}
	body, err := json.Marshal(JoinClusterRequest{NodeID: "n2", Addr: "127.0.0.1:7947", Token: "anything"})
	require.NoError(t, err)

	m := findMethod(t, "JoinCluster")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.Error(t, err)
}

func TestJoinClusterRejectsWrongToken(t *testing.T) {
	srv := &Server{dispatcher: &stubDispatcher{}, joinToken: "correct-token"}
	body, err := json.Marshal(JoinClusterRequest{NodeID: "n2", Addr: "127.0.0.1:7947", Token: "wrong-token"})
	require.NoError(t, err)

	m := findMethod(t, "JoinCluster")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.Error(t, err)
}
