package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/rooms/internal/store"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	switch {
	case isSchemaError(err):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: The index looks out of date. Try: rooms rebuild")
	case errors.Is(err, store.ErrRoomNotFound):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: List rooms with: rooms ls")
	}

	return err
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
