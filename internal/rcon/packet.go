package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"tf2pug/internal/constants"
)

const (
	typeAuth            int32 = 3
	typeExecCommand     int32 = 2
	typeAuthResponse    int32 = 2
	typeCommandResponse int32 = 0
)

// id + type + the two terminating NULs
const minPacketLength = 10

type packet struct {
	id   int32
	typ  int32
	body []byte
}

// encode lays out a packet as
//
//	int32 length | int32 id | int32 type | body | 0x00 0x00
//
// little-endian, where length counts everything after itself.
func (p packet) encode() []byte {
	length := int32(minPacketLength + len(p.body))
	buf := bytes.NewBuffer(make([]byte, 0, 4+length))

	_ = binary.Write(buf, binary.LittleEndian, length)
	_ = binary.Write(buf, binary.LittleEndian, p.id)
	_ = binary.Write(buf, binary.LittleEndian, p.typ)
	buf.Write(p.body)
	buf.Write([]byte{0, 0})

	return buf.Bytes()
}

func readPacket(r io.Reader) (packet, error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return packet{}, err
	}
	if length < minPacketLength || length > constants.RconMaxPacket {
		return packet{}, fmt.Errorf("%w: packet length %d", ErrProtocol, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return packet{}, err
	}

	return packet{
		id:   int32(binary.LittleEndian.Uint32(data[0:4])),
		typ:  int32(binary.LittleEndian.Uint32(data[4:8])),
		body: bytes.TrimRight(data[8:], "\x00"),
	}, nil
}

// terminator reports whether p is the 0x01 packet sent after the mirror echo.
// Some servers pad it with NULs on both sides.
func (p packet) terminator() bool {
	return bytes.Equal(bytes.Trim(p.body, "\x00"), []byte{0x01})
}
