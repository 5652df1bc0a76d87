package snapshotio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/statesync"
	"github.com/chainforge/execd/triedb"
)

// DumpSnapshot writes <dir>/accounts and <dir>/code for db's current
// cursor, backing the `--dump_snapshot DIR` flag.
func DumpSnapshot(ctx context.Context, db *triedb.TrieDb, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshotio: create %s: %w", dir, err)
	}

	accountsFile, err := os.Create(filepath.Join(dir, "accounts"))
	if err != nil {
		return fmt.Errorf("snapshotio: create accounts file: %w", err)
	}
	defer accountsFile.Close()

	records := make(chan statesync.AccountRecord, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- statesync.NewServer(db).Stream(ctx, func(r statesync.AccountRecord) error {
			select {
			case records <- r:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(records)
	}()
	if err := DumpAccounts(accountsFile, records); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("snapshotio: stream accounts: %w", err)
	}

	codeFile, err := os.Create(filepath.Join(dir, "code"))
	if err != nil {
		return fmt.Errorf("snapshotio: create code file: %w", err)
	}
	defer codeFile.Close()

	blobs := make(chan CodeBlob, 64)
	codeErrCh := make(chan error, 1)
	go func() {
		codeErrCh <- db.EachCode(ctx, func(codeHash common.Hash, code []byte) error {
			select {
			case blobs <- CodeBlob{Hash: codeHash, Code: code}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(blobs)
	}()
	if err := DumpCode(codeFile, blobs); err != nil {
		return err
	}
	if err := <-codeErrCh; err != nil {
		return fmt.Errorf("snapshotio: enumerate code: %w", err)
	}
	return nil
}
