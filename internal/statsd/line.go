package statsd

import (
	"strconv"

	"github.com/msageha/cistatsd/internal/model"
)

// AppendLine appends "<name>:<value>|<type>" for m to buf. No trailing newline is written.
func AppendLine(buf []byte, m model.Metric) []byte {
	buf = append(buf, m.Name...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, m.Value, 10)
	buf = append(buf, '|')
	buf = append(buf, m.Kind.StatsdType()...)
	return buf
}

// Encode returns the wire line for m.
func Encode(m model.Metric) string {
	return string(AppendLine(make([]byte, 0, len(m.Name)+24), m))
}

type packet struct {
	data  []byte
	lines int
}

// batch packs encoded lines into newline-joined datagrams of at most maxBytes.
// maxBytes == 0 puts every line in its own datagram; a single line longer than
// maxBytes is still sent, alone.
func batch(metrics []model.Metric, maxBytes int) []packet {
	var (
		packets []packet
		cur     packet
		line    []byte
	)
	flush := func() {
		if cur.lines == 0 {
			return
		}
		packets = append(packets, cur)
		cur = packet{}
	}
	for _, m := range metrics {
		line = AppendLine(line[:0], m)
		if maxBytes == 0 {
			packets = append(packets, packet{data: append([]byte(nil), line...), lines: 1})
			continue
		}
		if cur.lines > 0 && len(cur.data)+1+len(line) > maxBytes {
			flush()
		}
		if cur.lines > 0 {
			cur.data = append(cur.data, '\n')
		}
		cur.data = append(cur.data, line...)
		cur.lines++
	}
	flush()
	return packets
}
