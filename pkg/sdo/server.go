package sdo

import (
	"log/slog"
	"sync"

	"github.com/canofirmware/nodestack/internal/crc"
	"github.com/canofirmware/nodestack/pkg/od"
)

// Server is a single-client SDO server state machine (spec §4.5). It is
// driven cooperatively: HandleFrame consumes one request frame per call and
// Tick advances the timeout clock. Neither call blocks. Block-mode
// transfers can emit several frames per call (a whole sub-block), so both
// methods return a slice rather than a single frame.
type Server struct {
	logger *slog.Logger
	dict   *od.ObjectDictionary
	nodeId uint8

	mu     sync.Mutex
	state  serverState
	index  uint16
	sub    uint8
	object od.ObjectAccess
	info   od.SubInfo
	toggle uint8

	sizeIndicated   uint32
	sizeTransferred uint32

	// download scratch buffer, used for both segmented and block download
	buf     []byte
	flushed bool

	// upload
	uploadOffset uint32

	// block download
	blockCRCEnabled  bool
	blockCRC         crc.CRC16
	blockSize        uint8
	blockReceived    uint8
	blockAwaitingEnd bool

	// block upload
	uploadBlockCRCEnabled bool
	uploadBlockCRC        crc.CRC16
	uploadBlockSize       uint8
	uploadSeqSent         uint8
	uploadLastLen         int

	elapsedUs uint32
	out       [][8]byte
}

// NewServer builds an SDO server bound to the given object dictionary.
func NewServer(logger *slog.Logger, dict *od.ObjectDictionary, nodeId uint8) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With("service", "sdo-server"),
		dict:   dict,
		nodeId: nodeId,
		buf:    make([]byte, 0, BufferSize),
	}
}

func (s *Server) emit(frame [8]byte) { s.out = append(s.out, frame) }

// Tick advances the idle timer by elapsedUs microseconds; if a transfer is
// in progress and has been silent for more than TimeoutUs, it emits an
// abort and returns to Idle.
func (s *Server) Tick(elapsedUs uint32) [][8]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateIdle {
		return nil
	}
	s.elapsedUs += elapsedUs
	if s.elapsedUs <= TimeoutUs {
		return nil
	}
	frame := abortFrame(s.index, s.sub, od.AbortSdoTimeout)
	s.logger.Warn("sdo transfer timed out", "index", s.index, "sub", s.sub)
	s.reset()
	return [][8]byte{frame}
}

// HandleFrame processes one incoming SDO request frame, returning zero or
// more response frames to send in order.
func (s *Server) HandleFrame(data [8]byte) [][8]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsedUs = 0
	s.out = s.out[:0]

	if data[0] == 0x80 {
		s.logger.Warn("client aborted transfer", "index", s.index, "sub", s.sub)
		s.reset()
		return nil
	}

	var abortCode od.Abort
	switch s.state {
	case stateIdle:
		abortCode = s.dispatchIdle(data)
	case stateDownloadSegmented:
		abortCode = s.handleDownloadSegment(data)
	case stateUploadSegmented:
		abortCode = s.handleUploadSegment(data)
	case stateDownloadBlock:
		abortCode = s.handleBlockDownloadFrame(data)
	case stateUploadBlock:
		abortCode = s.handleBlockUploadFrame(data)
	default:
		abortCode = od.AbortGeneral
	}

	if abortCode != 0 {
		idx, sub := s.index, s.sub
		s.logger.Warn("sdo abort", "index", idx, "sub", sub, "code", abortCode)
		s.reset()
		return [][8]byte{abortFrame(idx, sub, abortCode)}
	}
	if len(s.out) == 0 {
		return nil
	}
	return append([][8]byte(nil), s.out...)
}

func (s *Server) reset() {
	s.state = stateIdle
	s.buf = s.buf[:0]
	s.flushed = false
	s.blockReceived = 0
	s.blockAwaitingEnd = false
	s.elapsedUs = 0
}

func (s *Server) lookup(index uint16, sub uint8) (od.ObjectAccess, od.SubInfo, od.Abort) {
	entry := s.dict.Index(index)
	if entry == nil {
		return nil, od.SubInfo{}, od.AbortNoSuchObject
	}
	info, err := entry.Object.SubInfo(sub)
	if err != nil {
		if ab, ok := err.(od.Abort); ok {
			return nil, od.SubInfo{}, ab
		}
		return nil, od.SubInfo{}, od.AbortGeneral
	}
	return entry.Object, info, 0
}

func toAbort(err error) od.Abort {
	if err == nil {
		return 0
	}
	if ab, ok := err.(od.Abort); ok {
		return ab
	}
	return od.AbortGeneral
}

func allowsShortWrite(dt od.DataType) bool {
	return dt == od.VisibleString || dt == od.UnicodeString || dt == od.OctetString || dt == od.Domain
}

func (s *Server) dispatchIdle(data [8]byte) od.Abort {
	switch commandSpecifier(data[0]) {
	case ccsInitiateDownload:
		return s.handleInitiateDownload(data)
	case ccsInitiateUpload:
		return s.handleInitiateUpload(data)
	case ccsBlockDownload:
		return s.handleBlockDownloadInitiate(data)
	case ccsBlockUpload:
		return s.handleBlockUploadInitiate(data)
	default:
		return od.AbortInvalidCommand
	}
}

func (s *Server) handleInitiateDownload(data [8]byte) od.Abort {
	index := getU16(data[1:3])
	sub := data[3]
	object, info, abort := s.lookup(index, sub)
	if abort != 0 {
		s.index, s.sub = index, sub
		return abort
	}
	if !info.Access.Writable() {
		s.index, s.sub = index, sub
		return od.AbortReadOnly
	}

	expedited := (data[0]>>1)&1 == 1
	if expedited {
		n := (data[0] >> 2) & 0x3
		length := 4 - int(n)
		chunk := data[4 : 4+length]
		if info.Size != 0 {
			if uint32(length) > info.Size {
				return od.AbortLengthTooHigh
			}
			if uint32(length) < info.Size && !allowsShortWrite(info.DataType) {
				return od.AbortLengthTooLow
			}
		}
		if err := object.Write(sub, chunk); err != nil {
			return toAbort(err)
		}
		var resp [8]byte
		resp[0] = scsDownloadInitiate << 5
		resp[1], resp[2] = byte(index), byte(index>>8)
		resp[3] = sub
		s.emit(resp)
		return 0
	}

	sizeIndicated := data[0]&1 == 1
	s.index, s.sub, s.object, s.info = index, sub, object, info
	s.sizeIndicated = 0
	if sizeIndicated {
		s.sizeIndicated = getU32(data[4:8])
	}
	s.sizeTransferred = 0
	s.buf = s.buf[:0]
	s.flushed = false
	s.toggle = 0
	s.state = stateDownloadSegmented

	var resp [8]byte
	resp[0] = scsDownloadInitiate << 5
	resp[1], resp[2] = byte(index), byte(index>>8)
	resp[3] = sub
	s.emit(resp)
	return 0
}

func (s *Server) downloadAppend(chunk []byte) od.Abort {
	if len(s.buf)+len(chunk) > cap(s.buf) {
		if !s.flushed {
			if err := s.object.BeginPartial(s.sub); err != nil {
				return toAbort(err)
			}
			s.flushed = true
		}
		if _, err := s.object.WritePartial(s.sub, s.buf); err != nil {
			return toAbort(err)
		}
		s.buf = s.buf[:0]
	}
	s.buf = append(s.buf, chunk...)
	return 0
}

func (s *Server) downloadFinish() od.Abort {
	if s.flushed {
		if len(s.buf) > 0 {
			if _, err := s.object.WritePartial(s.sub, s.buf); err != nil {
				return toAbort(err)
			}
		}
		if err := s.object.EndPartial(s.sub); err != nil {
			return toAbort(err)
		}
		return 0
	}
	if err := s.object.Write(s.sub, s.buf); err != nil {
		return toAbort(err)
	}
	return 0
}

func (s *Server) handleDownloadSegment(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsDownloadSegment {
		return od.AbortInvalidCommand
	}
	t := (data[0] >> 4) & 1
	if t != s.toggle {
		return od.AbortToggleNotAlternated
	}
	n := (data[0] >> 1) & 0x7
	c := data[0] & 1
	length := 7 - int(n)
	chunk := data[1 : 1+length]

	if abort := s.downloadAppend(chunk); abort != 0 {
		return abort
	}
	s.sizeTransferred += uint32(length)
	if s.sizeIndicated > 0 && s.sizeTransferred > s.sizeIndicated {
		return od.AbortLengthTooHigh
	}

	if c == 1 {
		if s.sizeIndicated > 0 && s.sizeTransferred < s.sizeIndicated {
			return od.AbortLengthTooLow
		}
		if abort := s.downloadFinish(); abort != 0 {
			return abort
		}
		var resp [8]byte
		resp[0] = (scsDownloadSegment << 5) | (t << 4)
		s.emit(resp)
		s.state = stateIdle
		return 0
	}

	var resp [8]byte
	resp[0] = (scsDownloadSegment << 5) | (t << 4)
	s.emit(resp)
	s.toggle ^= 1
	return 0
}

func (s *Server) handleInitiateUpload(data [8]byte) od.Abort {
	index := getU16(data[1:3])
	sub := data[3]
	object, info, abort := s.lookup(index, sub)
	if abort != 0 {
		s.index, s.sub = index, sub
		return abort
	}
	if !info.Access.Readable() {
		s.index, s.sub = index, sub
		return od.AbortWriteOnly
	}

	size, err := object.CurrentSize(sub)
	if err != nil {
		return toAbort(err)
	}

	var resp [8]byte
	resp[1], resp[2] = byte(index), byte(index>>8)
	resp[3] = sub

	if size > 0 && size <= 4 {
		buf := make([]byte, 4)
		n, err := object.Read(sub, 0, buf[:size])
		if err != nil {
			return toAbort(err)
		}
		nUnused := 4 - n
		resp[0] = (scsUploadInitiate << 5) | 0x02 | byte(nUnused<<2)
		copy(resp[4:], buf)
		s.emit(resp)
		return 0
	}

	s.index, s.sub, s.object, s.info = index, sub, object, info
	s.sizeIndicated = size
	s.uploadOffset = 0
	s.toggle = 0
	s.state = stateUploadSegmented

	resp[0] = (scsUploadInitiate << 5) | 0x01
	putU32(resp[4:8], size)
	s.emit(resp)
	return 0
}

func (s *Server) handleUploadSegment(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsUploadSegment {
		return od.AbortInvalidCommand
	}
	t := (data[0] >> 4) & 1
	if t != s.toggle {
		return od.AbortToggleNotAlternated
	}

	remaining := s.sizeIndicated - s.uploadOffset
	chunkLen := remaining
	if chunkLen > 7 {
		chunkLen = 7
	}
	var buf [7]byte
	n, err := s.object.Read(s.sub, s.uploadOffset, buf[:chunkLen])
	if err != nil {
		return toAbort(err)
	}
	s.uploadOffset += uint32(n)

	c := byte(0)
	if s.uploadOffset >= s.sizeIndicated {
		c = 1
	}
	nUnused := 7 - n

	var resp [8]byte
	resp[0] = (scsUploadSegment << 5) | (t << 4) | byte(nUnused<<1) | c
	copy(resp[1:], buf[:])
	s.emit(resp)

	if c == 1 {
		s.state = stateIdle
		return 0
	}
	s.toggle ^= 1
	return 0
}
