package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	acquired, released bool
	err                error
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.acquired = true
	return true, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.released = true
	return nil
}

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func TestMigrate_AppliesInOrderUnderLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"002_b.sql":  "CREATE TABLE b (id INT);",
		"001_a.sql":  "CREATE TABLE a (id INT);",
		"003_c.sql":  "   \n",
		"README.txt": "not a migration",
	})

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	lock := &fakeLock{}
	ok, failed, err := migrate(context.Background(), db, lock, dir)

	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 0, failed)
	assert.True(t, lock.acquired)
	assert.True(t, lock.released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FailedFileRollsBackAndContinues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"001_bad.sql":  "CREATE TABLE oops (",
		"002_good.sql": "CREATE TABLE good (id INT);",
	})

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE oops`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE good`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, failed, err := migrate(context.Background(), db, &fakeLock{}, dir)

	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{"001_a.sql": "SELECT 1;"})
	lock := &fakeLock{err: errors.New("redis down")}

	_, _, err = migrate(context.Background(), db, lock, dir)

	assert.Error(t, err)
	assert.False(t, lock.released)
}

func TestMigrate_MissingDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, _, err = migrate(context.Background(), db, &fakeLock{}, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
