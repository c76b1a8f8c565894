package cache

import (
	"fmt"
	"io"
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// Format selects cache_dump's output format.
type Format uint8

const (
	FormatText Format = iota
	FormatXML
	FormatJSON
)

// Dump streams every cached object to w in the given format, mirroring
// cache_dump. Objects are visited in the same stable order Iterate uses.
func (c *Cache) Dump(w io.Writer, format Format) error {
	switch format {
	case FormatXML:
		return c.dumpXML(w)
	case FormatJSON:
		return c.dumpJSON(w)
	default:
		return c.dumpText(w)
	}
}

func (c *Cache) dumpText(w io.Writer) error {
	var writeErr error
	c.Iterate(func(o *Object) bool {
		var line string
		if c.extra.Dump != nil {
			line = c.extra.Dump(o)
		} else {
			line = defaultTextLine(o)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func defaultTextLine(o *Object) string {
	f := o.Flow
	return fmt.Sprintf("id=%d src=%s dst=%s sport=%d dport=%d proto=%d status=0x%x",
		o.ID, f.TupleOrig.Src, f.TupleOrig.Dst,
		f.TupleOrig.Port.SourcePort, f.TupleOrig.Port.DestPort,
		f.TupleOrig.Proto, f.Status)
}

func (c *Cache) dumpXML(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "<cache name=%q>\n", c.name); err != nil {
		return err
	}
	var writeErr error
	c.Iterate(func(o *Object) bool {
		f := o.Flow
		_, err := fmt.Fprintf(w,
			"  <flow id=\"%d\"><meta direction=\"original\"><layer3 protonum=\"%d\"><src>%s</src><dst>%s</dst></layer3><layer4 sport=\"%d\" dport=\"%d\"/></meta><status>0x%x</status></flow>\n",
			o.ID, f.TupleOrig.Proto, f.TupleOrig.Src, f.TupleOrig.Dst,
			f.TupleOrig.Port.SourcePort, f.TupleOrig.Port.DestPort, f.Status)
		if err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}
	_, err := fmt.Fprintln(w, "</cache>")
	return err
}

// dumpJSON writes one JSON document, {"cache":name,"flows":[...]},
// followed by a newline. Each flow object is rendered and written as it
// is visited, so a dump of a large cache never requires holding the whole
// rendering in memory at once.
func (c *Cache) dumpJSON(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "{\"cache\":"); err != nil {
		return err
	}
	buf := jsonenc.AppendString(nil, c.name)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, ",\"flows\":["); err != nil {
		return err
	}

	first := true
	var writeErr error
	c.Iterate(func(o *Object) bool {
		if !first {
			if _, err := fmt.Fprint(w, ","); err != nil {
				writeErr = err
				return false
			}
		}
		first = false
		if _, err := w.Write(appendObjectJSON(nil, o)); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}
	_, err := fmt.Fprint(w, "]}\n")
	return err
}

func appendObjectJSON(dst []byte, o *Object) []byte {
	f := o.Flow
	dst = append(dst, `{"id":`...)
	dst = appendUint(dst, uint64(o.ID))
	dst = append(dst, `,"proto":`...)
	dst = appendUint(dst, uint64(f.TupleOrig.Proto))
	dst = append(dst, `,"src":`...)
	dst = jsonenc.AppendString(dst, f.TupleOrig.Src.String())
	dst = append(dst, `,"dst":`...)
	dst = jsonenc.AppendString(dst, f.TupleOrig.Dst.String())
	dst = append(dst, `,"sport":`...)
	dst = appendUint(dst, uint64(f.TupleOrig.Port.SourcePort))
	dst = append(dst, `,"dport":`...)
	dst = appendUint(dst, uint64(f.TupleOrig.Port.DestPort))
	dst = append(dst, `,"status":`...)
	dst = appendUint(dst, uint64(f.Status))
	dst = append(dst, `,"mark":`...)
	dst = appendUint(dst, uint64(f.Mark))
	dst = append(dst, `,"packets_orig":`...)
	dst = appendUint(dst, f.CountersOrig.Packets)
	dst = append(dst, `,"bytes_orig":`...)
	dst = appendUint(dst, f.CountersOrig.Bytes)
	dst = append(dst, '}')
	return dst
}

// appendUint appends v as a bare JSON number. Every numeric field a
// flow dump emits is an unsigned integer, so strconv's own append-style
// formatter needs no wrapping beyond the base argument.
func appendUint(dst []byte, v uint64) []byte {
	return strconv.AppendUint(dst, v, 10)
}
