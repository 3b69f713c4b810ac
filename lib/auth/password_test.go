package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		desc     string
		password string
		valid    bool
	}{
		{"ok", "hunter42!", true},
		{"too short", "ab1!", false},
		{"no digit", "abcdefg!", false},
		{"no letter", "12345678!", false},
		{"no symbol", "abcd1234", false},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			err := ValidatePassword(test.password)
			if test.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	require := require.New(t)

	hash, err := HashPassword("hunter42!")
	require.NoError(err)
	require.True(isBcrypt(hash))

	ok, rehash := VerifyPassword(hash, "hunter42!")
	require.True(ok)
	require.False(rehash)

	ok, _ = VerifyPassword(hash, "wrong")
	require.False(ok)
}

func TestVerifyPasswordPlaintextMigration(t *testing.T) {
	require := require.New(t)

	// Legacy configs stored the password verbatim.
	ok, rehash := VerifyPassword("hunter42!", "hunter42!")
	require.True(ok)
	require.True(rehash)

	ok, rehash = VerifyPassword("hunter42!", "wrong")
	require.False(ok)
	require.False(rehash)

	// Prefixes do not match either.
	ok, _ = VerifyPassword("hunter42!", "hunter42")
	require.False(ok)
}
