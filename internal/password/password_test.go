package password

import (
	"testing"

	"github.com/birdnest/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	digest, err := h.Hash("Aa1!aaaa")
	require.NoError(t, err)
	assert.NotEqual(t, "Aa1!aaaa", digest)

	again, err := h.Hash("Aa1!aaaa")
	require.NoError(t, err)
	assert.NotEqual(t, digest, again, "bcrypt salts every digest")

	require.NoError(t, h.Compare(digest, "Aa1!aaaa"))
	require.ErrorIs(t, h.Compare(digest, "wrong"), ErrMismatch)
}

func TestBcrypt_Empty(t *testing.T) {
	_, err := NewBcrypt(0).Hash("")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSaltedSHA256(t *testing.T) {
	h, err := NewSaltedSHA256("pepper")
	require.NoError(t, err)

	digest, err := h.Hash("Aa1!aaaa")
	require.NoError(t, err)
	assert.NotEqual(t, "Aa1!aaaa", digest)
	assert.Len(t, digest, 64)

	again, err := h.Hash("Aa1!aaaa")
	require.NoError(t, err)
	assert.Equal(t, digest, again)

	require.NoError(t, h.Compare(digest, "Aa1!aaaa"))
	require.ErrorIs(t, h.Compare(digest, "Aa1!aaab"), ErrMismatch)

	other, err := NewSaltedSHA256("salt")
	require.NoError(t, err)
	require.ErrorIs(t, other.Compare(digest, "Aa1!aaaa"), ErrMismatch)
}

func TestNew(t *testing.T) {
	h, err := New(config.PasswordConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Bcrypt{}, h)

	h, err = New(config.PasswordConfig{Algorithm: "SHA256", Salt: "pepper"})
	require.NoError(t, err)
	assert.IsType(t, &SaltedSHA256{}, h)

	_, err = New(config.PasswordConfig{Algorithm: "sha256"})
	require.Error(t, err)

	_, err = New(config.PasswordConfig{Algorithm: "md5"})
	require.Error(t, err)
}
