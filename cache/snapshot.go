package cache

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/randalmurphal/promptarena/filetype"
)

// snapshotVersion is written in every snapshot header. Readers reject other
// versions.
const snapshotVersion = 1

// codec identifies how a record's data is compressed.
type codec uint8

const (
	codecNone codec = 0
	codecLZ4  codec = 1
	codecZstd codec = 2
)

type snapshotHeader struct {
	Version int       `cbor:"1,keyasint"`
	Count   int       `cbor:"2,keyasint"`
	Written time.Time `cbor:"3,keyasint"`
}

type snapshotRecord struct {
	Key       string `cbor:"1,keyasint"`
	FetchedAt int64  `cbor:"2,keyasint"`
	TTL       int64  `cbor:"3,keyasint"`
	Size      int64  `cbor:"4,keyasint"`
	Digest    []byte `cbor:"5,keyasint"`
	Codec     codec  `cbor:"6,keyasint"`
	Data      []byte `cbor:"7,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	errIncompressible = errors.New("incompressible")
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: cbor decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// WriteSnapshot writes every unexpired entry to w in key order and returns
// the number written. Text content is zstd-compressed; other content uses
// lz4.
func (c *Cache) WriteSnapshot(w io.Writer) (int, error) {
	now := c.now()

	var entries []Entry
	c.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead && s.entry != nil && !s.entry.Expired(now) {
			entries = append(entries, *s.entry)
		}
		s.mu.Unlock()
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	enc := encMode.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, Count: len(entries), Written: now.UTC()}); err != nil {
		return 0, fmt.Errorf("write snapshot header: %w", err)
	}

	for i, e := range entries {
		tag, data, err := compress(e.Content)
		if err != nil {
			return i, fmt.Errorf("compress %s: %w", e.Key, err)
		}
		rec := snapshotRecord{
			Key:       e.Key,
			FetchedAt: e.FetchedAt.UnixNano(),
			TTL:       int64(e.TTL),
			Size:      e.Size,
			Digest:    e.Digest[:],
			Codec:     tag,
			Data:      data,
		}
		if err := enc.Encode(rec); err != nil {
			return i, fmt.Errorf("write snapshot record %s: %w", e.Key, err)
		}
	}

	c.logger.Debug("cache snapshot written", "entries", len(entries))
	return len(entries), nil
}

// ReadSnapshot loads entries written by WriteSnapshot and returns the number
// loaded. Entries that expired since the snapshot was taken are skipped. A
// digest mismatch fails the load.
func (c *Cache) ReadSnapshot(r io.Reader) (int, error) {
	dec := decMode.NewDecoder(r)

	var hdr snapshotHeader
	if err := dec.Decode(&hdr); err != nil {
		return 0, fmt.Errorf("read snapshot header: %w", err)
	}
	if hdr.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	now := c.now()
	loaded := 0
	for i := 0; i < hdr.Count; i++ {
		var rec snapshotRecord
		if err := dec.Decode(&rec); err != nil {
			return loaded, fmt.Errorf("read snapshot record %d: %w", i, err)
		}

		e := &Entry{
			Key:       rec.Key,
			Size:      rec.Size,
			FetchedAt: time.Unix(0, rec.FetchedAt),
			TTL:       time.Duration(rec.TTL),
		}
		if e.Expired(now) {
			continue
		}

		content, err := decompress(rec.Codec, rec.Data, int(rec.Size))
		if err != nil {
			return loaded, fmt.Errorf("decompress %s: %w", rec.Key, err)
		}
		e.Content = content
		e.Digest = Sum(content)
		if len(rec.Digest) != len(e.Digest) || string(rec.Digest) != string(e.Digest[:]) {
			return loaded, fmt.Errorf("snapshot record %s: digest mismatch", rec.Key)
		}

		c.store(e)
		loaded++
	}

	c.logger.Debug("cache snapshot loaded", "entries", loaded, "skipped", hdr.Count-loaded)
	return loaded, nil
}

func compress(data []byte) (codec, []byte, error) {
	if len(data) == 0 {
		return codecNone, data, nil
	}

	var (
		tag = codecLZ4
		out []byte
		err error
	)
	if filetype.IsBinary(data) {
		out, err = compressLZ4(data)
	} else {
		tag = codecZstd
		out, err = compressZstd(data)
	}
	if errors.Is(err, errIncompressible) {
		return codecNone, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return tag, out, nil
}

func decompress(tag codec, data []byte, size int) ([]byte, error) {
	switch tag {
	case codecNone:
		if len(data) != size {
			return nil, fmt.Errorf("size %d does not match expected %d", len(data), size)
		}
		if data == nil {
			data = []byte{}
		}
		return data, nil
	case codecLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case codecZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
