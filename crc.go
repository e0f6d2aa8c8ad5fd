// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

const crcPolynomial = 0xA001 // CRC-16/MODBUS polynomial (reversed 0x8005)

// crcTable is the CRC-16 lookup table for polynomial 0xA001.
var crcTable = func() (table [256]uint16) {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return
}()

// CRC16 calculates the Modbus CRC16 checksum of data. The low byte of the
// result is the first byte on the wire. The CRC of an empty slice is 0xFFFF.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[uint8(crc)^b]
	}
	return crc
}

// crc16Direct calculates the CRC bit by bit, without the lookup table.
func crc16Direct(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC returns a copy of data followed by its CRC16, low byte first.
func AppendCRC(data []byte) []byte {
	crc := CRC16(data)
	out := make([]byte, len(data), len(data)+2)
	copy(out, data)
	return append(out, byte(crc&0xFF), byte(crc>>8))
}

// VerifyCRC recomputes the CRC over all bytes except the trailing two and
// compares it with the trailer (low byte first).
func VerifyCRC(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	dataLen := len(frame) - 2
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return CRC16(frame[:dataLen]) == received
}

// frameCRC returns the calculated and received CRC of a frame that carries a
// CRC trailer. The caller guarantees len(frame) >= 2.
func frameCRC(frame []byte) (calculated, received uint16) {
	dataLen := len(frame) - 2
	return CRC16(frame[:dataLen]), uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
}
