package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"mini-ledger/blockchain"
)

// commandLength is the width of the zero padded command tag that starts
// every message.
const commandLength = 12

// Message is one of the protocol payloads: Version, Addr, Inv, GetBlocks,
// GetData, Tx or BlockData.
type Message interface {
	Command() string
	isMessage()
}

// CommandToBytes pads command with zero bytes to the tag width. Longer
// commands are truncated.
func CommandToBytes(command string) []byte {
	var b [commandLength]byte
	copy(b[:], command)

	return b[:]
}

// BytesToCommand strips the trailing zero padding of a tag.
func BytesToCommand(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// EncodeMessage renders msg as tag followed by its gob payload.
func EncodeMessage(msg Message) ([]byte, error) {
	var buff bytes.Buffer
	buff.Write(CommandToBytes(msg.Command()))

	if err := gob.NewEncoder(&buff).Encode(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", blockchain.NewError(blockchain.ErrSerialization, "encode "+msg.Command()), err)
	}

	return buff.Bytes(), nil
}

// DecodeMessage parses a full message. An unrecognized tag yields an
// *UnknownCommandError.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < commandLength {
		return nil, blockchain.NewError(blockchain.ErrSerialization, fmt.Sprintf("message of %d bytes is shorter than its command tag", len(data)))
	}

	command := BytesToCommand(data[:commandLength])
	payload := data[commandLength:]

	switch command {
	case "version":
		return decodePayload[Version](command, payload)
	case "addr":
		return decodePayload[Addr](command, payload)
	case "inv":
		return decodePayload[Inv](command, payload)
	case "getblocks":
		return decodePayload[GetBlocks](command, payload)
	case "getdata":
		return decodePayload[GetData](command, payload)
	case "tx":
		return decodePayload[Tx](command, payload)
	case "block":
		return decodePayload[BlockData](command, payload)
	}

	return nil, &UnknownCommandError{Command: command}
}

func decodePayload[T Message](command string, payload []byte) (Message, error) {
	var msg T
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", blockchain.NewError(blockchain.ErrSerialization, "decode "+command), err)
	}
	return msg, nil
}
