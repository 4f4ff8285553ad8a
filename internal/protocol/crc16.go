package protocol

// CRC16-CCITT parameters. These must match the device firmware bit-for-bit;
// the decoder relies on the verify-to-zero property of the appended checksum.
const (
	crc16Polynomial   = 0x1021
	crc16InitialValue = 0x0000
	crc16HighBitMask  = 0x8000
)

// CRC16 computes the CRC-16-CCITT checksum over data.
func CRC16(data []byte) uint16 {
	crc := uint16(crc16InitialValue)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&crc16HighBitMask != 0 {
				crc = (crc << 1) ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16Message computes the checksum the way it travels on the wire: over the
// message id byte followed by the payload.
func CRC16Message(id MsgID, payload []byte) uint16 {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(id))
	buf = append(buf, payload...)
	return CRC16(buf)
}
