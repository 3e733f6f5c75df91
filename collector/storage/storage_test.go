package storage

import (
	"bytes"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	fs, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	key := SnapshotKey("cam1", 1741617000000)
	require.Equal(t, "snap/cam1/1741617000000.jpg", key)

	content := []byte{0xff, 0xd8, 1, 2, 3}
	require.NoError(t, WriteFile(fs, key, bytes.NewReader(content)))

	back, err := ReadFile(fs, key)
	require.NoError(t, err)
	require.Equal(t, content, back)

	require.NoError(t, fs.DeleteFile(key))
	_, err = ReadFile(fs, key)
	require.Error(t, err)
}

func TestStorageFSRejectsTraversal(t *testing.T) {
	fs, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	_, err = fs.WriteFile("../escape.jpg")
	require.Error(t, err)
	_, err = fs.ReadFile("../../etc/passwd")
	require.Error(t, err)
	require.Error(t, fs.DeleteFile("a/../../b"))
}
