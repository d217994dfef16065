// Package sdo implements the SDO server state machine: expedited,
// segmented and block transfer modes over 8-byte CAN frames, addressed
// against an od.ObjectDictionary.
package sdo

import (
	"github.com/canofirmware/nodestack/pkg/od"
)

// Predefined connection-set COB-IDs (spec §6), base values before adding
// the node ID.
const (
	ClientServiceId uint16 = 0x600
	ServerServiceId uint16 = 0x580
)

// BlockSeqSize is the number of data bytes carried per block segment frame.
const BlockSeqSize = 7

// BlockMaxSize is the largest block size the server will ever propose, set
// by the 7-bit sequence-number field (spec §5 resource limits).
const BlockMaxSize = 127

// TimeoutUs is the server-side SDO timeout in microseconds (spec §4.5).
const TimeoutUs = 25_000

// BufferSize is the size of the server's internal transfer buffer used for
// segmented and block transfers of objects that fit in RAM budget; larger
// objects stream through begin/write/end partial instead.
const BufferSize = 889

type serverState uint8

const (
	stateIdle serverState = iota
	stateDownloadSegmented
	stateUploadSegmented
	stateDownloadBlock
	stateEndDownloadBlock
	stateUploadBlock
	stateEndUploadBlock
)

// ccs / scs command specifiers, the top 3 bits of byte 0 (spec §4.5).
const (
	ccsDownloadSegment   uint8 = 0
	ccsInitiateDownload  uint8 = 1
	ccsInitiateUpload    uint8 = 2
	ccsUploadSegment     uint8 = 3
	ccsAbort             uint8 = 4
	ccsBlockUpload       uint8 = 5
	ccsBlockDownload     uint8 = 6
	ccsEndBlockDownload  uint8 = 7
)

const (
	scsUploadSegment   uint8 = 0
	scsDownloadSegment uint8 = 1
	scsUploadInitiate  uint8 = 2
	scsDownloadInitiate uint8 = 3
	scsAbort           uint8 = 4
	scsBlockDownload   uint8 = 5
	scsBlockUpload     uint8 = 6
)

func commandSpecifier(b byte) uint8 { return b >> 5 }

// blockSubcommand values carried in bits 1..0 of byte 0 for block transfer
// frames.
const (
	blockSubInitiate uint8 = 0
	blockSubEnd      uint8 = 1
	blockSubCrsp     uint8 = 2
	blockSubStart    uint8 = 3
)

func abortFrame(index uint16, sub uint8, code od.Abort) [8]byte {
	var f [8]byte
	f[0] = 0x80
	f[1] = byte(index)
	f[2] = byte(index >> 8)
	f[3] = sub
	putU32(f[4:8], uint32(code))
	return f
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
