package slot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCRC16 checks the checksum against the XMODEM reference vector
func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16("123456789"))
	assert.Equal(t, uint16(0), crc16(""))
}

// TestOfKnownKeys checks slots of keys with well known placements
func TestOfKnownKeys(t *testing.T) {
	tests := []struct {
		key  string
		slot uint16
	}{
		{"foo", 12182},
		{"bar", 5061},
		{"somekey", 11058},
		{"a", 15495},
		{"hello", 866},
		{"user1000", 3443},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.slot, Of(tt.key))
		})
	}
}

// TestHashTag tests the extraction of the hashed part of a key
func TestHashTag(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"no tag", "foo", "foo"},
		{"simple tag", "{user1000}.following", "user1000"},
		{"tag in the middle", "a{bc}d", "bc"},
		{"empty tag", "foo{}{bar}", "foo{}{bar}"},
		{"only first tag counts", "foo{{bar}}zap", "{bar"},
		{"first closing brace after opening", "foo{bar}{zap}", "bar"},
		{"no closing brace", "foo{bar", "foo{bar"},
		{"closing before opening", "}foo{bar", "}foo{bar"},
		{"closing before and after", "}a{b}", "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HashTag(tt.key))
		})
	}
}

// TestSharedHashTag verifies that keys sharing a tag map to the same slot
func TestSharedHashTag(t *testing.T) {
	base := Of("{user1000}.following")
	assert.Equal(t, base, Of("{user1000}.followers"))
	assert.Equal(t, base, Of("user1000"))
	assert.Equal(t, Of("a{fu}"), Of("b{fu}"))
	assert.Equal(t, Of("a{fu}"), Of("c{fu}"))
}

// TestOfRangeAndDeterminism checks that every slot is in range and stable
func TestOfRangeAndDeterminism(t *testing.T) {
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key:%d", i)
		s := Of(key)
		assert.True(t, Valid(int(s)), "slot %d out of range", s)
		assert.Equal(t, s, Of(key))
		assert.Equal(t, s, OfBytes([]byte(key)))
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(0))
	assert.True(t, Valid(Max))
	assert.False(t, Valid(-1))
	assert.False(t, Valid(Count))
}
