package network

import (
	"fmt"

	"mini-ledger/blockchain"
)

// UnknownCommandError is returned when a message carries a command tag this
// node does not understand.
type UnknownCommandError struct {
	Command string
}

// Error implements the error interface.
func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("%s[%d]: unknown command %q", blockchain.ErrUnknownCommand, blockchain.ErrUnknownCommand, e.Command)
}

// GetCode returns blockchain.ErrUnknownCommand.
func (e *UnknownCommandError) GetCode() blockchain.ErrorCode {
	return blockchain.ErrUnknownCommand
}
