package dissect

import (
	"fmt"
	"strings"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
	"github.com/ctsyncd/ctsyncd/internal/syncproto"
)

// FormatMessage renders one decoded Message the way the C test
// harness's bisect_message printed it: protocol version, sequence
// number, flags, and (for data messages) the message type and flow
// tuple.
func FormatMessage(msg Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "v%d ", msg.Header.Version)
	if msg.Header.Version != flowobj.ProtocolVersion {
		b.WriteString("[warning: old version] ")
	}
	fmt.Fprintf(&b, "seq:%d ", msg.Header.Seq)

	writeFlag(&b, msg.Header.Flags, flowobj.FlagRESYNC, "RESYNC")
	writeFlag(&b, msg.Header.Flags, flowobj.FlagNACK, "NACK")
	writeFlag(&b, msg.Header.Flags, flowobj.FlagACK, "ACK")
	writeFlag(&b, msg.Header.Flags, flowobj.FlagALIVE, "ALIVE")
	writeFlag(&b, msg.Header.Flags, flowobj.FlagHELLO, "HELLO")
	writeFlag(&b, msg.Header.Flags, flowobj.FlagHELLOBack, "HELLO_BACK")

	if msg.Header.IsAckLike() {
		fmt.Fprintf(&b, "from:%d to:%d ", msg.Header.From, msg.Header.To)
		if syncproto.Before(msg.Header.To, msg.Header.From) {
			b.WriteString("[warning: bad ack range] ")
		}
	}

	switch msg.Header.Type {
	case flowobj.MsgNone:
	case flowobj.MsgCTNew:
		b.WriteString("CT-NEW ")
		writeFlow(&b, msg.Flow)
	case flowobj.MsgCTUpd:
		b.WriteString("CT-UPD ")
		writeFlow(&b, msg.Flow)
	case flowobj.MsgCTDel:
		b.WriteString("CT-DEL ")
		writeFlow(&b, msg.Flow)
	case flowobj.MsgExpNew:
		b.WriteString("EXP-NEW ")
		writeFlow(&b, msg.Flow)
	case flowobj.MsgExpUpd:
		b.WriteString("EXP-UPD ")
		writeFlow(&b, msg.Flow)
	case flowobj.MsgExpDel:
		b.WriteString("EXP-DEL ")
		writeFlow(&b, msg.Flow)
	default:
		b.WriteString("? [warning: unknown type] ")
	}

	return strings.TrimRight(b.String(), " ")
}

func writeFlag(b *strings.Builder, flags flowobj.Flag, bit flowobj.Flag, name string) {
	if flags&bit != 0 {
		b.WriteString(name)
		b.WriteByte(' ')
	}
}

func writeFlow(b *strings.Builder, f *flowobj.Flow) {
	if f == nil {
		b.WriteString("[warning: malformed payload] ")
		return
	}
	fmt.Fprintf(b, "src=%s dst=%s sport=%d dport=%d proto=%d ",
		f.TupleOrig.Src, f.TupleOrig.Dst, f.TupleOrig.Port.SourcePort, f.TupleOrig.Port.DestPort, f.TupleOrig.Proto)
}
