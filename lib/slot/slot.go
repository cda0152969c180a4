package slot

import "strings"

const (
	// Count is the number of slots in the key space
	Count = 16384

	// Max is the highest valid slot
	Max = Count - 1
)

// crcTable is the lookup table for CRC16/XMODEM (polynomial 0x1021)
var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// Of returns the slot of the given key, honoring hash tags.
func Of(key string) uint16 {
	return crc16(HashTag(key)) & Max
}

// OfBytes is Of for keys that are already byte slices.
func OfBytes(key []byte) uint16 {
	return Of(string(key))
}

// HashTag returns the part of the key that is hashed. This is the content of
// the first "{...}" section if it is non-empty, otherwise the whole key.
func HashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		// no closing brace or empty tag "{}"
		return key
	}
	return key[start+1 : start+1+end]
}

// Valid reports whether s is inside [0, Max].
func Valid(s int) bool {
	return s >= 0 && s <= Max
}

// crc16 computes the CRC16/XMODEM checksum of s
func crc16(s string) uint16 {
	var crc uint16
	for i := 0; i < len(s); i++ {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^s[i]]
	}
	return crc
}
