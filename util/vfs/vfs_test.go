package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirs(t *testing.T, run func(t *testing.T, d Dir)) {
	t.Run("mem", func(t *testing.T) {
		run(t, NewMemDir())
	})
	t.Run("fs", func(t *testing.T) {
		d, err := OpenDir(t.TempDir(), false)
		require.NoError(t, err)
		run(t, d)
	})
}

func TestWriteReadFile(t *testing.T) {
	testDirs(t, func(t *testing.T, d Dir) {
		err := WriteFile(d, "hello", func(w io.Writer) error {
			_, err := w.Write([]byte("world"))
			return err
		})
		require.NoError(t, err)

		data, err := ReadFile(d, "hello")
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), data)
	})
}

func TestOpenMissing(t *testing.T) {
	testDirs(t, func(t *testing.T, d Dir) {
		_, err := ReadFile(d, "nope")
		assert.True(t, IsNotExist(err))
	})
}

func TestCreateInvisibleUntilCommit(t *testing.T) {
	testDirs(t, func(t *testing.T, d Dir) {
		file, err := d.CreateFile("partial")
		require.NoError(t, err)
		_, err = file.Write([]byte("half"))
		require.NoError(t, err)

		_, err = ReadFile(d, "partial")
		assert.True(t, IsNotExist(err))

		require.NoError(t, file.Commit())
		require.NoError(t, file.Close())
		data, err := ReadFile(d, "partial")
		require.NoError(t, err)
		assert.Equal(t, []byte("half"), data)
	})
}

func TestRandomFile(t *testing.T) {
	testDirs(t, func(t *testing.T, d Dir) {
		f, err := d.OpenWrite("pages")
		require.NoError(t, err)
		defer f.Close()

		_, err = f.WriteAt([]byte("abcd"), 4)
		require.NoError(t, err)
		size, err := f.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(8), size)

		buf := make([]byte, 4)
		_, err = f.ReadAt(buf, 4)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcd"), buf)

		// short read past the end reports EOF
		_, err = f.ReadAt(buf, 6)
		assert.Equal(t, io.EOF, err)
	})
}

func TestRenameAndList(t *testing.T) {
	testDirs(t, func(t *testing.T, d Dir) {
		require.NoError(t, WriteFile(d, "a", func(w io.Writer) error { return nil }))
		require.NoError(t, WriteFile(d, "b", func(w io.Writer) error { return nil }))
		require.NoError(t, d.RenameFile("a", "c"))

		names, err := d.ListFiles()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b", "c"}, names)

		require.NoError(t, d.RemoveFile("b"))
		require.NoError(t, d.RemoveFile("b")) // removing twice is fine
		names, err = d.ListFiles()
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, names)
	})
}
