package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"
)

// DecodedRecord is one log record recovered from the output stream.
type DecodedRecord struct {
	BufferID uint32
	SiteID   uint32
	Payload  []byte
	// WrapAround is set on the first record of a batch whose scan
	// crossed buffer index zero.
	WrapAround bool
}

// Decoder reads the framed output stream back into records, enforcing
// that every referenced site id was declared by an earlier dictionary
// frame.
type Decoder struct {
	data []byte
	pos  int
	dict []StaticLogInfo

	// pending records from the current batch, drained by Next.
	pending []DecodedRecord
}

// NewDecoder decodes the in-memory output stream data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Dictionary returns the site descriptors seen so far.
func (d *Decoder) Dictionary() []StaticLogInfo {
	return d.dict
}

// Next returns the next record in stream order, or nil at end of
// stream.
func (d *Decoder) Next() (*DecodedRecord, error) {
	for {
		if len(d.pending) > 0 {
			rec := d.pending[0]
			d.pending = d.pending[1:]
			return &rec, nil
		}
		if d.pos >= len(d.data) {
			return nil, nil
		}

		switch d.data[d.pos] {
		case framePadding:
			// Zero padding runs to the next alignment boundary.
			next := (d.pos/PadAlignment + 1) * PadAlignment
			for i := d.pos; i < next && i < len(d.data); i++ {
				if d.data[i] != 0 {
					return nil, errors.Errorf("corrupt stream: non-zero pad byte at offset %d", i)
				}
			}
			d.pos = next
		case frameDict:
			if err := d.readDictEntry(); err != nil {
				return nil, err
			}
		case frameBatch:
			if err := d.readBatch(); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("corrupt stream: unknown frame type 0x%02x at offset %d",
				d.data[d.pos], d.pos)
		}
	}
}

// DecodeAll drains the stream.
func (d *Decoder) DecodeAll() ([]DecodedRecord, error) {
	var out []DecodedRecord
	for {
		rec, err := d.Next()
		if err != nil {
			return out, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, *rec)
	}
}

func (d *Decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, errors.Errorf("corrupt stream: truncated varint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.data) {
		return nil, errors.Errorf("corrupt stream: truncated frame at offset %d", d.pos)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readDictEntry() error {
	d.pos++ // frame type
	id, err := d.uvarint()
	if err != nil {
		return err
	}
	if int(id) != len(d.dict) {
		return errors.Errorf("out-of-order dictionary entry: got id %d, want %d", id, len(d.dict))
	}
	sev, err := d.take(1)
	if err != nil {
		return err
	}
	line, err := d.uvarint()
	if err != nil {
		return err
	}
	fileLen, err := d.uvarint()
	if err != nil {
		return err
	}
	file, err := d.take(int(fileLen))
	if err != nil {
		return err
	}
	fmtLen, err := d.uvarint()
	if err != nil {
		return err
	}
	format, err := d.take(int(fmtLen))
	if err != nil {
		return err
	}
	d.dict = append(d.dict, StaticLogInfo{
		Severity:     sev[0],
		Line:         uint32(line),
		Filename:     string(file),
		FormatString: string(format),
	})
	return nil
}

func (d *Decoder) readBatch() error {
	d.pos++ // frame type
	bufferID, err := d.uvarint()
	if err != nil {
		return err
	}
	flagsB, err := d.take(1)
	if err != nil {
		return err
	}
	flags := flagsB[0]
	rawLen, err := d.uvarint()
	if err != nil {
		return err
	}
	storedLen, err := d.uvarint()
	if err != nil {
		return err
	}
	stored, err := d.take(int(storedLen))
	if err != nil {
		return err
	}

	raw := stored
	if flags&flagSnappy != 0 {
		raw, err = snappy.Decode(nil, stored)
		if err != nil {
			return errors.Wrap(err, "failed to decompress batch")
		}
	}
	if uint64(len(raw)) != rawLen {
		return errors.Errorf("batch length mismatch: got %d, want %d", len(raw), rawLen)
	}

	wrap := flags&flagWrapAround != 0
	for len(raw) > 0 {
		siteID, payload, n := ReadRecord(raw)
		if n == 0 {
			return errors.New("corrupt stream: truncated record in batch")
		}
		if int(siteID) >= len(d.dict) {
			return errors.Errorf("record references site %d before its dictionary entry", siteID)
		}
		d.pending = append(d.pending, DecodedRecord{
			BufferID:   uint32(bufferID),
			SiteID:     siteID,
			Payload:    payload,
			WrapAround: wrap,
		})
		wrap = false
		raw = raw[n:]
	}
	return nil
}

// Format renders a decoded record against its dictionary entry for
// human consumption.
func (d *Decoder) Format(rec *DecodedRecord) string {
	info := d.dict[rec.SiteID]
	return fmt.Sprintf("%s:%d [buf %d] %s %s",
		info.Filename, info.Line, rec.BufferID, info.FormatString, rec.Payload)
}
