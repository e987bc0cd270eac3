package rtsp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	p, err := ParseURL("rtsp://u:p@10.0.0.1:554/C1/b1000/e1599/replay/s1")
	require.NoError(t, err)
	assert.Equal(t, "u", p.User)
	assert.Equal(t, "p", p.Pass)
	assert.Equal(t, "10.0.0.1", p.Host)
	assert.Equal(t, 554, p.Port)
	assert.Equal(t, "c1", p.Channel, "channel code is lower-cased, matched case-insensitively")
	assert.EqualValues(t, 1000, p.Start)
	assert.EqualValues(t, 1599, p.End)
}

func TestParseURLRejectsMalformed(t *testing.T) {
	_, err := ParseURL("http://not-rtsp/x")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBuildURL(t *testing.T) {
	url := BuildURL("rtsp://u:p@10.0.0.1:554", "c1", 1000, 1599)
	assert.Equal(t, "rtsp://u:p@10.0.0.1:554/c1/b1000/e1599/replay/s1", url)
}

func TestHostOf(t *testing.T) {
	host, err := HostOf("rtsp://u:p@10.0.0.1:554")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)
}

func TestHostOfRejectsMissingScheme(t *testing.T) {
	_, err := HostOf("10.0.0.1:554")
	assert.Error(t, err)
}

func TestFakeDecoderReadsFrame(t *testing.T) {
	d := NewFakeDecoder(64, 48)
	stream, err := d.Open(context.Background(), "rtsp://u:p@10.0.0.1:554/c1/b0/e10/replay/s1")
	require.NoError(t, err)
	defer stream.Close()

	frame, err := stream.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)
	assert.NotEmpty(t, frame.JPEG)
}

func TestFakeDecoderSimulatesTransientFailure(t *testing.T) {
	d := NewFakeDecoder(64, 48)
	_, err := d.Open(context.Background(), "rtsp://u:p@10.0.0.1:554/c1/refused")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestFakeStreamSimulatesTimeout(t *testing.T) {
	d := NewFakeDecoder(64, 48)
	stream, err := d.Open(context.Background(), "rtsp://u:p@10.0.0.1:554/c1/timeout")
	require.NoError(t, err)
	_, err = stream.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
}
