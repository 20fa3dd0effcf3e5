package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairPEMRoundTrips(t *testing.T) {
	privPEM, pubPEM, err := GenerateKeyPairPEM()
	require.NoError(t, err)

	priv, err := LoadEd25519PrivateKeyPEM(privPEM)
	require.NoError(t, err)
	pub, err := LoadEd25519PublicKeyPEM(pubPEM)
	require.NoError(t, err)

	require.Equal(t, priv.Public(), pub)
}

func TestLoadEd25519PrivateKeyPEMRejectsGarbage(t *testing.T) {
	_, err := LoadEd25519PrivateKeyPEM([]byte("not pem"))
	require.Error(t, err)
}

func TestLoadEd25519PublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := LoadEd25519PublicKeyPEM([]byte("not pem"))
	require.Error(t, err)
}
