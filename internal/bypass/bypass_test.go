package bypass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, p Policy, path string, data []byte) {
	t.Helper()
	f, err := p.OpenWrite(path)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, p.Flush(f))
	require.NoError(t, f.Close())
}

func TestNew_SelectsPolicy(t *testing.T) {
	assert.Equal(t, "buffered", New(Options{Direct: false}).Name())
	assert.NotEqual(t, "buffered", New(Options{Direct: true}).Name())
}

func TestOpenWrite_Truncates(t *testing.T) {
	for _, p := range []Policy{New(Options{Direct: true}), New(Options{Direct: false}), New(Options{Direct: true, OSync: true})} {
		t.Run(p.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "payload.bin")
			require.NoError(t, os.WriteFile(path, make([]byte, 10000), 0644))

			writeFile(t, p, path, []byte("hello"))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, int64(5), info.Size())
		})
	}
}

func TestBuffered_AlwaysDegraded(t *testing.T) {
	p := NewBuffered(Options{})
	path := filepath.Join(t.TempDir(), "payload.bin")
	writeFile(t, p, path, []byte("abc"))

	f, st, err := p.OpenRead(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, st.Degraded)
	assert.Equal(t, ModeBuffered, st.Mode)
	assert.NotEmpty(t, st.Reason)
	assert.Len(t, p.ReadBuffer(123), 123)
}

func TestPlatform_OpenReadRoundTrip(t *testing.T) {
	p := New(Options{Direct: true})
	path := filepath.Join(t.TempDir(), "payload.bin")
	data := make([]byte, 3*4096+100)
	for i := range data {
		data[i] = byte(i)
	}
	writeFile(t, p, path, data)

	f, st, err := p.OpenRead(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	// tmpfs and friends refuse direct io; that must be flagged, never silent
	if st.Degraded {
		assert.NotEmpty(t, st.Reason)
	} else {
		assert.Empty(t, st.Reason)
	}

	buf := p.ReadBuffer(4096)
	require.Len(t, buf, 4096)

	var total int
	for {
		n, err := f.Read(buf)
		total += n
		if err != nil || total >= len(data) {
			break
		}
	}
	assert.Equal(t, len(data), total)
}

func TestOpenRead_MissingFile(t *testing.T) {
	for _, p := range []Policy{New(Options{Direct: true}), New(Options{Direct: false})} {
		_, _, err := p.OpenRead(filepath.Join(t.TempDir(), "missing"), 4096)
		require.Error(t, err, p.Name())
		assert.True(t, os.IsNotExist(err), p.Name())
	}
}
