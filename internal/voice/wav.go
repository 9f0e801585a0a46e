package voice

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/discord-companion/internal/config"
)

const audioFormatPCM = 1

// EncodeTurnWAV writes drained samples into a PCM WAV container under dir and
// returns its path. The container format comes from cfg, the same values the
// transport decoder uses, so the two can never disagree. The file is written
// to a temp name and renamed into place.
func EncodeTurnWAV(dir string, correlationID string, samples []int16, cfg *config.AudioConfig) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create turn dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("turn_%s.wav", correlationID))
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create turn container: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	e := wav.NewEncoder(f, cfg.SampleRate, cfg.BitDepth, cfg.Channels, audioFormatPCM)
	if err := e.Write(&audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			NumChannels: cfg.Channels,
			SampleRate:  cfg.SampleRate,
		},
		SourceBitDepth: cfg.BitDepth,
	}); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write turn container: %w", err)
	}
	if err := e.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize turn container: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// DecodeWAV reads a PCM WAV file back into int16 samples. The playback path
// uses it to re-frame synthesized assets for the transport encoder.
func DecodeWAV(path string) ([]int16, *audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open wav %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode wav %s: %w", path, err)
	}
	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}
	return samples, buf.Format, nil
}
