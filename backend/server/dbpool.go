package server

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"whispr/backend/db"
	"whispr/common"
)

var (
	storeDBOnce sync.Once
	storeDB     *sql.DB
	storeDBErr  error
)

// openStoreDB connects once, creates the store tables and seeds the
// authorities named on the command line.
func openStoreDB(ctx context.Context, authorityList string) (*sql.DB, error) {
	storeDBOnce.Do(func() {
		dbc, err := common.DBConnect()
		if err != nil {
			storeDBErr = err
			return
		}
		if err := prepareStoreDB(ctx, dbc, authorityList); err != nil {
			dbc.Close()
			storeDBErr = err
			return
		}
		storeDB = dbc
	})
	return storeDB, storeDBErr
}

func prepareStoreDB(ctx context.Context, dbc *sql.DB, authorityList string) error {
	if err := db.CreateTables(ctx, dbc); err != nil {
		return err
	}
	for _, a := range strings.Split(authorityList, ",") {
		if a = strings.TrimSpace(a); a == "" {
			continue
		}
		if err := db.AddAuthority(ctx, dbc, a); err != nil {
			return fmt.Errorf("failed to add authority %s: %w", a, err)
		}
	}
	return nil
}

func closeStoreDB() {
	if storeDB != nil {
		_ = storeDB.Close()
	}
}
