package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceValidator(t *testing.T) {
	v := NewSourceValidator(16)

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{name: "empty", code: ""},
		{name: "small", code: "print(1)"},
		{name: "at limit", code: strings.Repeat("a", 16)},
		{name: "too large", code: strings.Repeat("a", 17), wantErr: ErrSourceTooLarge},
		{name: "invalid utf8", code: "x = '\xff'", wantErr: ErrSourceEncoding},
		{name: "nul byte", code: "a\x00b", wantErr: ErrSourceEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.code)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, DefaultMaxSourceSize, NewSourceValidator(0).MaxSize())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("sess_01HZX", "id"))
	assert.Error(t, ValidateID("", "id"))
	assert.Error(t, ValidateID("../etc", "id"))
	assert.Error(t, ValidateID(strings.Repeat("a", MaxIDLength+1), "id"))
}

func TestHasher(t *testing.T) {
	h := DefaultHasher()

	// sha256("abc")
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, abc, h.HashString("abc"))

	require.NoError(t, h.Verify([]byte("abc"), strings.ToUpper(abc)))
	assert.Error(t, h.Verify([]byte("abd"), abc))

	assert.Equal(t, h.SourceKey("x", 1, 2), h.SourceKey("x", 1, 2))
	assert.NotEqual(t, h.SourceKey("x", 1, 2), h.SourceKey("x", 1, 3))
	assert.Equal(t, "ba7816bf", ShortHash(abc))
	assert.Equal(t, "ab", ShortHash("ab"))
}
