package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/roach88/evfsm/internal/store"
)

// openStore opens the database named by --db, falling back to the configured
// store path. With mustExist a missing file is a command error instead of a
// fresh database.
func openStore(opts *RootOptions, cmd *cobra.Command, dbFlag string, mustExist bool) (*store.Store, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}

	path := dbFlag
	if path == "" {
		path = cfg.Store.Path
	}
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, "database not found: "+path)
		}
	}

	st, err := store.Open(path,
		store.WithSynchronous(cfg.Store.Synchronous),
		store.WithLogger(opts.Logger(cmd.ErrOrStderr())),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// renderValue shows a stored event for humans: JSON as-is, CBOR in
// diagnostic notation, anything else as hex.
func renderValue(b []byte) string {
	if json.Valid(b) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err == nil {
			return buf.String()
		}
	}
	if diag, err := cbor.Diagnose(b); err == nil {
		return diag
	}
	return hex.EncodeToString(b)
}
