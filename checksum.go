package goingest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"
	"strings"
)

// ChecksumAlgorithm names the digest function used to verify the transferred files.
type ChecksumAlgorithm string

const (
	ChecksumSHA1     ChecksumAlgorithm = "SHA1-160"
	ChecksumMD5      ChecksumAlgorithm = "MD5-128"
	ChecksumAdler32  ChecksumAlgorithm = "Adler-32"
	ChecksumCRC32    ChecksumAlgorithm = "CRC-32"
	ChecksumFileSize ChecksumAlgorithm = "File-Size-64"
)

// DefaultChecksumAlgorithm is used when no algorithm has been configured.
const DefaultChecksumAlgorithm = ChecksumSHA1

// ChecksumAlgorithms lists the supported algorithms in the order of preference.
var ChecksumAlgorithms = []ChecksumAlgorithm{
	ChecksumSHA1, ChecksumMD5, ChecksumAdler32, ChecksumCRC32, ChecksumFileSize,
}

// ParseChecksumAlgorithm returns the algorithm matching the name case-insensitively.
func ParseChecksumAlgorithm(name string) (ChecksumAlgorithm, error) {
	for _, a := range ChecksumAlgorithms {
		if strings.EqualFold(string(a), name) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported checksum algorithm %q", name)
}

// NewHash returns a new streaming hash of the algorithm.
func (a ChecksumAlgorithm) NewHash() (hash.Hash, error) {
	switch a {
	case ChecksumSHA1:
		return sha1.New(), nil
	case ChecksumMD5:
		return md5.New(), nil
	case ChecksumAdler32:
		return adler32.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumFileSize:
		return &sizeHash{}, nil
	}
	return nil, fmt.Errorf("unsupported checksum algorithm %q", string(a))
}

// Digest computes the hex encoded digest of everything read from r.
func (a ChecksumAlgorithm) Digest(r io.Reader) (string, error) {
	h, err := a.NewHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes computes the hex encoded digest of the buffer.
func (a ChecksumAlgorithm) DigestBytes(data []byte) (string, error) {
	return a.Digest(bytes.NewReader(data))
}

// algorithmFor returns the algorithm to use for the unit. Units skipping checksums are only
// verified by their size.
func algorithmFor(unit *ImportUnit, configured ChecksumAlgorithm) ChecksumAlgorithm {
	if unit.Options.SkipChecksum {
		return ChecksumFileSize
	}
	return configured
}

// sizeHash is a hash.Hash counting the written bytes. The sum is the big endian 64 bit size.
type sizeHash struct {
	size uint64
}

func (h *sizeHash) Write(p []byte) (int, error) {
	h.size += uint64(len(p))
	return len(p), nil
}

func (h *sizeHash) Sum(b []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.size)
	return append(b, buf[:]...)
}

func (h *sizeHash) Reset()         { h.size = 0 }
func (h *sizeHash) Size() int      { return 8 }
func (h *sizeHash) BlockSize() int { return 1 }
