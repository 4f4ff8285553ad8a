package protocol

import "testing"

func TestCRC16VerifyToZero(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x7F}
	crc := CRC16Message(MsgIDFotaOpen, payload)

	full := append([]byte{byte(MsgIDFotaOpen)}, payload...)
	full = append(full, byte(crc>>8), byte(crc))
	if got := CRC16(full); got != 0 {
		t.Fatalf("residual checksum = 0x%04X, want 0", got)
	}
}

func TestCRC16SingleBitFlipDetected(t *testing.T) {
	payload := []byte{0xAA, 0x55, 0x00, 0xFF}
	crc := CRC16Message(MsgIDStatusUpdated, payload)

	full := append([]byte{byte(MsgIDStatusUpdated)}, payload...)
	full = append(full, byte(crc>>8), byte(crc))

	for i := range full {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(full))
			copy(mutated, full)
			mutated[i] ^= 1 << bit
			if CRC16(mutated) == 0 {
				t.Fatalf("flip of byte %d bit %d went undetected", i, bit)
			}
		}
	}
}

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0 {
		t.Fatalf("CRC16(nil) = 0x%04X, want 0 with zero init", got)
	}
}
