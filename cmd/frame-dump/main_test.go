package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, samples int) {
	t.Helper()
	data := make([]byte, 2*samples)
	wav := []byte("RIFF")
	wav = binary.LittleEndian.AppendUint32(wav, uint32(36+len(data)))
	wav = append(wav, []byte("WAVEfmt ")...)
	wav = binary.LittleEndian.AppendUint32(wav, 16)
	wav = binary.LittleEndian.AppendUint16(wav, 1)
	wav = binary.LittleEndian.AppendUint16(wav, 1)
	wav = binary.LittleEndian.AppendUint32(wav, 22050)
	wav = binary.LittleEndian.AppendUint32(wav, 22050*2)
	wav = binary.LittleEndian.AppendUint16(wav, 2)
	wav = binary.LittleEndian.AppendUint16(wav, 16)
	wav = append(wav, []byte("data")...)
	wav = binary.LittleEndian.AppendUint32(wav, uint32(len(data)))
	require.NoError(t, os.WriteFile(path, append(wav, data...), 0644))
}

func runDump(t *testing.T, args ...string) (int, []byte) {
	t.Helper()
	t.Setenv("ODCACHE_LOG_LEVEL", "error")
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var out bytes.Buffer
	code := run(append([]string{"frame-dump"}, args...), &out)
	return code, out.Bytes()
}

func TestRunDumpsEveryFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 10000)

	code, out := runDump(t, path)
	require.Equal(t, 0, code)

	var next int64
	var frames int64
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		var rec frameRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		frames++
		assert.Equal(t, frames, rec.Frame)
		assert.Equal(t, next, rec.DTS, "frames are contiguous")
		assert.Equal(t, rec.Samples*2, rec.Bytes)
		next += int64(rec.Samples)
	}
	require.NoError(t, scanner.Err())
	assert.Positive(t, frames)
	assert.Equal(t, int64(10000), next)
}

func TestRunFailures(t *testing.T) {
	code, _ := runDump(t)
	assert.Equal(t, 2, code)

	code, out := runDump(t, filepath.Join(t.TempDir(), "missing.wav"))
	assert.Equal(t, 1, code)
	assert.Empty(t, out)

	text := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("not audio"), 0644))
	code, _ = runDump(t, text)
	assert.Equal(t, 1, code)
}
