package sdo

import (
	"testing"

	"github.com/canofirmware/nodestack/internal/crc"
	"github.com/canofirmware/nodestack/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestDict() *od.ObjectDictionary {
	deviceType := od.NewVar(od.NewScalarField(4, []byte{0, 0, 0, 0}), od.SubInfo{Size: 4, DataType: od.UInt32, Access: od.Rw})
	longBuf := od.NewVar(od.NewByteField(64), od.SubInfo{Size: 0, DataType: od.OctetString, Access: od.Rw})

	return od.NewBuilder().
		AddVar(0x2000, deviceType).
		AddVar(0x2001, longBuf).
		Build()
}

// S1: expedited download of 0x2A to 0x2000:00.
func TestExpeditedDownload(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	req := [8]byte{0x22, 0x00, 0x20, 0x00, 0x2A, 0x00, 0x00, 0x00}
	resp := s.HandleFrame(req)
	require.Len(t, resp, 1)
	assert.Equal(t, [8]byte{0x60, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}, resp[0])

	e := dict.Index(0x2000)
	v, err := e.Uint32(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x2A, v)
}

// S2: expedited upload of 0x2000:00.
func TestExpeditedUpload(t *testing.T) {
	dict := buildTestDict()
	e := dict.Index(0x2000)
	require.NoError(t, e.PutUint32(0, 0x2A))

	s := NewServer(nil, dict, 1)
	req := [8]byte{0x40, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}
	resp := s.HandleFrame(req)
	require.Len(t, resp, 1)
	assert.Equal(t, [8]byte{0x42, 0x00, 0x20, 0x00, 0x2A, 0x00, 0x00, 0x00}, resp[0])
}

// S3: segmented download of the 7-byte string "Testers" into 0x2001:00.
func TestSegmentedDownload(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	init := [8]byte{0x21, 0x01, 0x20, 0x00, 0x07, 0x00, 0x00, 0x00}
	resp := s.HandleFrame(init)
	require.Len(t, resp, 1)
	assert.Equal(t, [8]byte{0x60, 0x01, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}, resp[0])

	seg := [8]byte{0x01, 'T', 'e', 's', 't', 'e', 'r', 's'}
	resp = s.HandleFrame(seg)
	require.Len(t, resp, 1)
	assert.Equal(t, [8]byte{0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, resp[0])

	e := dict.Index(0x2001)
	buf := make([]byte, 7)
	n, err := e.Object.Read(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "Testers", string(buf[:n]))
}

func TestSegmentedDownloadTogglesAndRejectsStaleToggle(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	init := [8]byte{0x21, 0x01, 0x20, 0x00, 0x0E, 0x00, 0x00, 0x00}
	s.HandleFrame(init)

	seg1 := [8]byte{0x00, 'A', 'B', 'C', 'D', 'E', 'F', 'G'}
	resp := s.HandleFrame(seg1)
	require.Len(t, resp, 1)
	// The ack echoes the toggle of the segment just consumed (0).
	assert.EqualValues(t, 0x00, resp[0][0]&0x10)

	// Replaying the same (now stale) toggle must abort.
	resp = s.HandleFrame(seg1)
	require.Len(t, resp, 1)
	assert.Equal(t, byte(0x80), resp[0][0])
}

func TestSegmentedUpload(t *testing.T) {
	dict := buildTestDict()
	e := dict.Index(0x2001)
	require.NoError(t, e.Object.Write(0, []byte("HelloWorld")))

	s := NewServer(nil, dict, 1)
	init := [8]byte{0x40, 0x01, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}
	resp := s.HandleFrame(init)
	require.Len(t, resp, 1)
	assert.EqualValues(t, scsUploadInitiate<<5|0x01, resp[0][0])
	assert.EqualValues(t, 10, getU32(resp[0][4:8]))

	var collected []byte
	toggle := byte(0)
	for {
		var req [8]byte
		req[0] = (ccsUploadSegment << 5) | (toggle << 4)
		resp = s.HandleFrame(req)
		require.Len(t, resp, 1)
		n := 7 - int((resp[0][0]>>1)&0x7)
		collected = append(collected, resp[0][1:1+n]...)
		if resp[0][0]&1 == 1 {
			break
		}
		toggle ^= 1
	}
	assert.Equal(t, "HelloWorld", string(collected))
}

func TestBlockDownload(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	var want crc.CRC16
	want.Block(payload)

	init := [8]byte{(ccsBlockDownload << 5) | (1 << 2) | (1 << 1) | blockSubInitiate, 0x01, 0x20, 0x00}
	putU32(init[4:8], uint32(len(payload)))
	resp := s.HandleFrame(init)
	require.Len(t, resp, 1)
	assert.EqualValues(t, scsBlockDownload<<5|blockSubInitiate, resp[0][0])
	blockSize := resp[0][4]
	require.Equal(t, byte(BlockMaxSize), blockSize)

	var segments [][8]byte
	seq := uint8(1)
	for off := 0; off < len(payload); off += BlockSeqSize {
		var seg [8]byte
		end := off + BlockSeqSize
		if end > len(payload) {
			end = len(payload)
		}
		copy(seg[1:], payload[off:end])
		seg[0] = seq
		segments = append(segments, seg)
		seq++
	}
	segments[len(segments)-1][0] |= 0x80

	for _, seg := range segments {
		resp = s.HandleFrame(seg)
	}
	require.Len(t, resp, 1)
	assert.EqualValues(t, scsBlockDownload<<5|blockSubCrsp, resp[0][0])
	ackseq := resp[0][1]
	assert.EqualValues(t, len(segments), ackseq)

	pad := len(segments)*BlockSeqSize - len(payload)
	end := [8]byte{(ccsBlockDownload << 5) | byte(pad<<2) | blockSubEnd}
	putU16(end[2:4], uint16(want))
	resp = s.HandleFrame(end)
	require.Len(t, resp, 1)
	assert.EqualValues(t, scsBlockDownload<<5|blockSubEnd, resp[0][0])

	e := dict.Index(0x2001)
	buf := make([]byte, len(payload))
	n, err := e.Object.Read(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(buf[:n]))
}

func TestBlockDownloadCrcMismatchAborts(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	init := [8]byte{(ccsBlockDownload << 5) | (1 << 2) | (1 << 1) | blockSubInitiate, 0x01, 0x20, 0x00}
	putU32(init[4:8], 3)
	s.HandleFrame(init)

	seg := [8]byte{0x81, 'a', 'b', 'c'}
	resp := s.HandleFrame(seg)
	require.Len(t, resp, 1)

	end := [8]byte{(ccsBlockDownload << 5) | (4 << 2) | blockSubEnd}
	putU16(end[2:4], 0xFFFF)
	resp = s.HandleFrame(end)
	require.Len(t, resp, 1)
	assert.Equal(t, byte(0x80), resp[0][0])
	assert.EqualValues(t, od.AbortCrcError, getU32(resp[0][4:8]))
}

func TestBlockUpload(t *testing.T) {
	dict := buildTestDict()
	e := dict.Index(0x2001)
	payload := []byte("block upload payload exceeding one segment of data")
	require.NoError(t, e.Object.Write(0, payload))

	s := NewServer(nil, dict, 1)
	init := [8]byte{(ccsBlockUpload << 5) | (1 << 2) | blockSubInitiate, 0x01, 0x20, 0x00}
	resp := s.HandleFrame(init)
	require.Len(t, resp, 1)
	assert.EqualValues(t, len(payload), getU32(resp[0][4:8]))

	start := [8]byte{(ccsBlockUpload << 5) | blockSubStart}
	resp = s.HandleFrame(start)
	require.NotEmpty(t, resp)

	var collected []byte
	for _, seg := range resp {
		collected = append(collected, seg[1:]...)
	}

	lastSeq := resp[len(resp)-1][0] & 0x7F
	ack := [8]byte{(ccsBlockUpload << 5) | blockSubCrsp, lastSeq, BlockMaxSize}
	resp = s.HandleFrame(ack)
	require.Len(t, resp, 1)
	assert.EqualValues(t, scsBlockUpload<<5|blockSubEnd, resp[0][0])

	unused := int(resp[0][1])
	total := len(collected)
	got := collected[:total-unused]
	assert.Equal(t, string(payload), string(got))

	end := [8]byte{(ccsBlockUpload << 5) | blockSubEnd}
	resp = s.HandleFrame(end)
	assert.Empty(t, resp)
}

func TestTickTimesOutStaleTransfer(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	init := [8]byte{0x21, 0x01, 0x20, 0x00, 0x07, 0x00, 0x00, 0x00}
	s.HandleFrame(init)

	resp := s.Tick(TimeoutUs - 1)
	assert.Nil(t, resp)

	resp = s.Tick(2)
	require.Len(t, resp, 1)
	assert.Equal(t, byte(0x80), resp[0][0])
	assert.EqualValues(t, od.AbortSdoTimeout, getU32(resp[0][4:8]))
}

func TestAbortFromClientResetsServer(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	init := [8]byte{0x21, 0x01, 0x20, 0x00, 0x07, 0x00, 0x00, 0x00}
	s.HandleFrame(init)

	abort := [8]byte{0x80, 0x01, 0x20, 0x00, 0, 0, 0, 0}
	resp := s.HandleFrame(abort)
	assert.Nil(t, resp)
	assert.Equal(t, stateIdle, s.state)
}

func TestInitiateDownloadUnknownIndexAborts(t *testing.T) {
	dict := buildTestDict()
	s := NewServer(nil, dict, 1)

	req := [8]byte{0x22, 0x00, 0x30, 0x00, 0x2A, 0x00, 0x00, 0x00}
	resp := s.HandleFrame(req)
	require.Len(t, resp, 1)
	assert.Equal(t, byte(0x80), resp[0][0])
	assert.EqualValues(t, od.AbortNoSuchObject, getU32(resp[0][4:8]))
}
