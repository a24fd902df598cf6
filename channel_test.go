package uaclient

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel() *SecureChannel {
	ch := &SecureChannel{logger: slog.Default()}
	ch.reset(ConnectionConfig{
		RecvBufferSize: 65535,
		SendBufferSize: 65535,
		MaxMessageSize: 16777216,
		MaxChunkCount:  64,
	})
	return ch
}

func TestProcessHELACKMergesMinimum(t *testing.T) {
	ch := newTestChannel()

	err := ch.processHELACK(&AcknowledgeMessage{
		ReceiveBufferSize: 32768,
		SendBufferSize:    131072,
		MaxMessageSize:    8388608,
		MaxChunkCount:     0, // unbounded on the server side
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(32768), ch.config.RecvBufferSize)
	assert.Equal(t, uint32(65535), ch.config.SendBufferSize)
	assert.Equal(t, uint32(8388608), ch.config.MaxMessageSize)
	assert.Equal(t, uint32(64), ch.config.MaxChunkCount, "zero means unbounded, the local bound stays")
}

func TestProcessHELACKRejectsSmallBuffers(t *testing.T) {
	ch := newTestChannel()

	err := ch.processHELACK(&AcknowledgeMessage{
		ReceiveBufferSize: 4096,
		SendBufferSize:    65535,
	})
	require.Error(t, err)
	assert.Equal(t, StatusBadTcpInternalError, StatusCodeOf(err))
}

func TestMinUnbounded(t *testing.T) {
	assert.Equal(t, uint32(5), minUnbounded(5, 0))
	assert.Equal(t, uint32(5), minUnbounded(0, 5))
	assert.Equal(t, uint32(0), minUnbounded(0, 0))
	assert.Equal(t, uint32(3), minUnbounded(5, 3))
}

func TestGenerateLocalNonceRegenerates(t *testing.T) {
	ch := newTestChannel()

	require.NoError(t, ch.generateLocalNonce())
	first := append([]byte(nil), ch.localNonce...)
	require.Len(t, ch.localNonce, LocalNonceLength)

	require.NoError(t, ch.generateLocalNonce())
	require.Len(t, ch.localNonce, LocalNonceLength)
	assert.NotEqual(t, first, ch.localNonce)
}

func TestChannelCloseWipesState(t *testing.T) {
	ch := newTestChannel()
	require.NoError(t, ch.generateLocalNonce())
	ch.remoteNonce = []byte{1, 2, 3}
	ch.securityToken = ChannelSecurityToken{ChannelID: 1, TokenID: 7, RevisedLifetime: 600000}
	ch.sendSequenceNumber = 12

	nonce := ch.localNonce
	ch.close()

	assert.Equal(t, ChannelClosed, ch.State())
	assert.Nil(t, ch.localNonce)
	assert.Nil(t, ch.remoteNonce)
	assert.Equal(t, make([]byte, len(nonce)), nonce)
	assert.Equal(t, ChannelSecurityToken{}, ch.securityToken)
	assert.Zero(t, ch.sendSequenceNumber)
}

func TestSequenceNumbersIncrease(t *testing.T) {
	ch := newTestChannel()
	assert.Equal(t, uint32(1), ch.nextSequenceNumber())
	assert.Equal(t, uint32(2), ch.nextSequenceNumber())
}

func TestDecodeSymmetricMessageTooShort(t *testing.T) {
	ch := newTestChannel()
	_, err := ch.decodeSymmetricMessage(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
