package pebblestore

import (
	"encoding/binary"
	"fmt"

	"github.com/go-faster/jx"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

const (
	orderPrefix = "order/"
	indexPrefix = "idx/"
	indexDate   = "20060102"
)

var seqKey = []byte("meta/seq")

func orderKey(id string) []byte {
	return []byte(orderPrefix + id)
}

// indexKey = idx/<yyyymmdd>/<seq big-endian>: лексикографический порядок
// совпадает с порядком (дата, вставка).
func indexKey(date domain.Date, seq uint64) []byte {
	key := make([]byte, 0, len(indexPrefix)+len(indexDate)+1+8)
	key = append(key, indexPrefix...)
	key = date.Time().AppendFormat(key, indexDate)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, seq)
}

func indexDayPrefix(date domain.Date) []byte {
	key := make([]byte, 0, len(indexPrefix)+len(indexDate)+1)
	key = append(key, indexPrefix...)
	key = date.Time().AppendFormat(key, indexDate)
	return append(key, '/')
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode sequence: unexpected length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

type record struct {
	order domain.Order
	seq   uint64
}

func encodeRecord(r record) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.order.ID)
	e.FieldStart("date")
	e.Str(r.order.Date.String())
	e.FieldStart("comment")
	e.Str(r.order.Comment)
	e.FieldStart("seq")
	e.UInt64(r.seq)
	e.FieldStart("deviations")
	e.ArrStart()
	for _, d := range r.order.Deviations {
		e.Str(d.Description)
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func decodeRecord(data []byte) (record, error) {
	var r record
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			r.order.ID = v
			return err
		case "date":
			v, err := d.Str()
			if err != nil {
				return err
			}
			r.order.Date, err = domain.ParseDate(v)
			return err
		case "comment":
			v, err := d.Str()
			r.order.Comment = v
			return err
		case "seq":
			v, err := d.UInt64()
			r.seq = v
			return err
		case "deviations":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				r.order.Deviations = append(r.order.Deviations, domain.Deviation{Description: v})
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return record{}, fmt.Errorf("decode order record: %w", err)
	}
	return r, nil
}
