// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagetest builds raw disk images for tests.
package imagetest

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	sectorSize = 512

	headerSize   = 92
	numEntries   = 128
	entrySize    = 128
	entriesLBA   = 2
	firstUsable  = entriesLBA + numEntries*entrySize/sectorSize
	backupLength = numEntries*entrySize/sectorSize + 1
)

// GPTDisk returns a blank raw disk of the given number of 512 byte
// sectors with a protective MBR, an empty partition array and a valid
// primary GPT header. sectors must leave room for the primary and
// backup tables, 67 sectors at least.
func GPTDisk(sectors uint64) []byte {
	disk := make([]byte, sectors*sectorSize)
	disk[510], disk[511] = 0x55, 0xaa

	entries := disk[entriesLBA*sectorSize : firstUsable*sectorSize]

	le := binary.LittleEndian
	hdr := disk[sectorSize : 2*sectorSize]
	copy(hdr, "EFI PART")
	le.PutUint32(hdr[8:12], 0x00010000)
	le.PutUint32(hdr[12:16], headerSize)
	le.PutUint64(hdr[24:32], 1)
	le.PutUint64(hdr[32:40], sectors-1)
	le.PutUint64(hdr[40:48], firstUsable)
	le.PutUint64(hdr[48:56], sectors-backupLength-1)
	copy(hdr[56:72], "0123456789abcdef")
	le.PutUint64(hdr[72:80], entriesLBA)
	le.PutUint32(hdr[80:84], numEntries)
	le.PutUint32(hdr[84:88], entrySize)
	le.PutUint32(hdr[88:92], crc32.ChecksumIEEE(entries))
	le.PutUint32(hdr[16:20], crc32.ChecksumIEEE(hdr[:headerSize]))
	return disk
}
