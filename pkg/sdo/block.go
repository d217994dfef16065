package sdo

import "github.com/canofirmware/nodestack/pkg/od"

// Block transfer (spec §4.5). CRC, when negotiated, covers the data bytes
// of the transfer only; the zero padding of the final segment is excluded.
// On download the final segment's bytes are added to the CRC once the end
// frame has said how many of them are padding.

func (s *Server) handleBlockDownloadInitiate(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsBlockDownload || data[0]&0x01 != blockSubInitiate {
		return od.AbortInvalidCommand
	}
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

	crcEnabled := (data[0]>>2)&1 == 1
	sizeIndicated := (data[0]>>1)&1 == 1

	var size uint32
	if sizeIndicated {
		size = getU32(data[4:8])
		if info.Size != 0 && size > info.Size && !allowsShortWrite(info.DataType) {
			return od.AbortLengthTooHigh
		}
	}

	s.index, s.sub, s.object, s.info = index, sub, object, info
	s.sizeIndicated = size
	s.sizeTransferred = 0
	s.buf = s.buf[:0]
	s.flushed = false
	s.blockCRCEnabled = crcEnabled
	s.blockCRC = 0
	s.blockSize = BlockMaxSize
	s.blockReceived = 0
	s.blockAwaitingEnd = false
	s.state = stateDownloadBlock

	var resp [8]byte
	resp[0] = (scsBlockDownload << 5) | blockSubInitiate
	resp[1], resp[2] = byte(index), byte(index>>8)
	resp[3] = sub
	resp[4] = s.blockSize
	s.emit(resp)
	return 0
}

func (s *Server) handleBlockDownloadFrame(data [8]byte) od.Abort {
	if s.blockAwaitingEnd {
		return s.handleBlockDownloadEnd(data)
	}

	seqno := data[0] & 0x7F
	c := (data[0] >> 7) & 1
	if seqno == 0 {
		return od.AbortInvalidSeqNumber
	}
	if seqno != s.blockReceived+1 {
		return od.AbortInvalidSeqNumber
	}

	chunk := data[1:8]
	if s.blockCRCEnabled && c == 0 {
		s.blockCRC.Block(chunk)
	}
	if abort := s.downloadAppend(chunk); abort != 0 {
		return abort
	}
	s.sizeTransferred += uint32(len(chunk))
	s.blockReceived = seqno

	if c == 1 || s.blockReceived >= s.blockSize {
		var resp [8]byte
		resp[0] = (scsBlockDownload << 5) | blockSubCrsp
		resp[1] = s.blockReceived
		resp[2] = s.blockSize
		s.emit(resp)
		s.blockReceived = 0
		if c == 1 {
			s.blockAwaitingEnd = true
		}
	}
	return 0
}

func (s *Server) handleBlockDownloadEnd(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsBlockDownload || data[0]&0x03 != blockSubEnd {
		return od.AbortInvalidCommand
	}
	n := (data[0] >> 2) & 0x7

	if n > 0 {
		if len(s.buf) < int(n) {
			return od.AbortGeneral
		}
		s.buf = s.buf[:len(s.buf)-int(n)]
		s.sizeTransferred -= uint32(n)
	}
	if s.sizeIndicated > 0 && s.sizeTransferred != s.sizeIndicated {
		return od.AbortLengthTooLow
	}

	if s.blockCRCEnabled {
		s.blockCRC.Block(s.buf[len(s.buf)-(BlockSeqSize-int(n)):])
		clientCRC := getU16(data[2:4])
		if uint16(s.blockCRC) != clientCRC {
			return od.AbortCrcError
		}
	}

	if abort := s.downloadFinish(); abort != 0 {
		return abort
	}

	var resp [8]byte
	resp[0] = (scsBlockDownload << 5) | blockSubEnd
	s.emit(resp)
	s.state = stateIdle
	return 0
}

func (s *Server) handleBlockUploadInitiate(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsBlockUpload || data[0]&0x03 != blockSubInitiate {
		return od.AbortInvalidCommand
	}
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

	crcEnabled := (data[0]>>2)&1 == 1

	s.index, s.sub, s.object, s.info = index, sub, object, info
	s.sizeIndicated = size
	s.uploadOffset = 0
	s.uploadBlockCRCEnabled = crcEnabled
	s.uploadBlockCRC = 0
	s.uploadBlockSize = BlockMaxSize
	s.uploadSeqSent = 0
	s.uploadLastLen = 0
	s.state = stateUploadBlock

	var resp [8]byte
	resp[0] = (scsBlockUpload << 5) | (crcbit(crcEnabled) << 2) | (1 << 1) | blockSubInitiate
	resp[1], resp[2] = byte(index), byte(index>>8)
	resp[3] = sub
	putU32(resp[4:8], size)
	s.emit(resp)
	return 0
}

func crcbit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (s *Server) sendUploadSubBlock() {
	var seq uint8
	for seq < s.uploadBlockSize {
		remaining := s.sizeIndicated - s.uploadOffset
		chunkLen := remaining
		if chunkLen > BlockSeqSize {
			chunkLen = BlockSeqSize
		}
		var raw [BlockSeqSize]byte
		n, err := s.object.Read(s.sub, s.uploadOffset, raw[:chunkLen])
		if err != nil {
			n = 0
		}
		seq++
		isLast := s.uploadOffset+uint32(n) >= s.sizeIndicated

		var resp [8]byte
		c := byte(0)
		if isLast {
			c = 1
		}
		resp[0] = (c << 7) | seq
		copy(resp[1:], raw[:])
		s.emit(resp)
		if s.uploadBlockCRCEnabled {
			s.uploadBlockCRC.Block(resp[1 : 1+n])
		}

		s.uploadOffset += uint32(n)
		s.uploadLastLen = n
		if isLast {
			break
		}
	}
	s.uploadSeqSent = seq
}

func (s *Server) handleBlockUploadFrame(data [8]byte) od.Abort {
	if commandSpecifier(data[0]) != ccsBlockUpload {
		return od.AbortInvalidCommand
	}
	switch data[0] & 0x03 {
	case blockSubStart:
		s.sendUploadSubBlock()
		return 0

	case blockSubCrsp:
		ackseq := data[1]
		nextBlockSize := data[2]
		if nextBlockSize < 1 || nextBlockSize > BlockMaxSize {
			return od.AbortInvalidBlockSize
		}
		if ackseq < s.uploadSeqSent {
			missing := uint32(s.uploadSeqSent-ackseq) * BlockSeqSize
			if missing > s.uploadOffset {
				missing = s.uploadOffset
			}
			s.uploadOffset -= missing
		}
		s.uploadBlockSize = nextBlockSize

		if s.uploadOffset >= s.sizeIndicated {
			unused := byte(0)
			if s.sizeIndicated%BlockSeqSize != 0 {
				unused = byte(BlockSeqSize - s.sizeIndicated%BlockSeqSize)
			}
			var resp [8]byte
			resp[0] = (scsBlockUpload << 5) | blockSubEnd
			resp[1] = unused
			if s.uploadBlockCRCEnabled {
				putU16(resp[2:4], uint16(s.uploadBlockCRC))
			}
			s.emit(resp)
			return 0
		}
		s.sendUploadSubBlock()
		return 0

	case blockSubEnd:
		s.state = stateIdle
		return 0

	default:
		return od.AbortInvalidCommand
	}
}
