package bottica

import (
	"encoding/json"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Verdict is the outcome of one verification.
type Verdict struct {
	// ID identifies the verification in logs.
	ID string `json:"verification_id"`

	Bot string `json:"bot"`

	// Identity is the identity the bot name was matched from, if any.
	Identity string `json:"identity,omitempty"`

	IP string `json:"ip"`

	Verified bool `json:"verified"`

	// Checked lists the verifier kinds evaluated, in order.
	Checked []string `json:"checked"`

	// Failed is the kind that rejected the address.
	Failed string `json:"failed,omitempty"`

	// Cached reports whether the verdict was served from the cache.
	Cached bool `json:"cached"`

	Duration time.Duration `json:"duration_ns"`
}

// ToJSON serializes v to JSON.
func (v *Verdict) ToJSON() ([]byte, error) {
	return json.Marshal(v)
}

// VerdictFromJSON deserializes a Verdict from JSON.
func VerdictFromJSON(data []byte) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ToMessagePack serializes v to MessagePack.
func (v *Verdict) ToMessagePack() ([]byte, error) {
	return v.MarshalMsg(nil)
}

// VerdictFromMessagePack deserializes a Verdict from MessagePack.
func VerdictFromMessagePack(data []byte) (*Verdict, error) {
	var v Verdict
	if _, err := v.UnmarshalMsg(data); err != nil {
		return nil, err
	}
	return &v, nil
}

var (
	_ msgp.Marshaler   = (*Verdict)(nil)
	_ msgp.Unmarshaler = (*Verdict)(nil)
	_ msgp.Sizer       = (*Verdict)(nil)
)

// MarshalMsg implements msgp.Marshaler. Keys match the JSON field names.
func (v *Verdict) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, v.Msgsize())
	o = msgp.AppendMapHeader(o, 9)
	o = msgp.AppendString(o, "verification_id")
	o = msgp.AppendString(o, v.ID)
	o = msgp.AppendString(o, "bot")
	o = msgp.AppendString(o, v.Bot)
	o = msgp.AppendString(o, "identity")
	o = msgp.AppendString(o, v.Identity)
	o = msgp.AppendString(o, "ip")
	o = msgp.AppendString(o, v.IP)
	o = msgp.AppendString(o, "verified")
	o = msgp.AppendBool(o, v.Verified)
	o = msgp.AppendString(o, "checked")
	o = msgp.AppendArrayHeader(o, uint32(len(v.Checked)))
	for _, k := range v.Checked {
		o = msgp.AppendString(o, k)
	}
	o = msgp.AppendString(o, "failed")
	o = msgp.AppendString(o, v.Failed)
	o = msgp.AppendString(o, "cached")
	o = msgp.AppendBool(o, v.Cached)
	o = msgp.AppendString(o, "duration_ns")
	o = msgp.AppendInt64(o, int64(v.Duration))
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown keys are skipped.
func (v *Verdict) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}

	*v = Verdict{}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}

		switch msgp.UnsafeString(field) {
		case "verification_id":
			v.ID, bts, err = msgp.ReadStringBytes(bts)
		case "bot":
			v.Bot, bts, err = msgp.ReadStringBytes(bts)
		case "identity":
			v.Identity, bts, err = msgp.ReadStringBytes(bts)
		case "ip":
			v.IP, bts, err = msgp.ReadStringBytes(bts)
		case "verified":
			v.Verified, bts, err = msgp.ReadBoolBytes(bts)
		case "checked":
			var sz uint32
			sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "checked")
			}
			v.Checked = make([]string, sz)
			for i := range v.Checked {
				v.Checked[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "checked", i)
				}
			}
		case "failed":
			v.Failed, bts, err = msgp.ReadStringBytes(bts)
		case "cached":
			v.Cached, bts, err = msgp.ReadBoolBytes(bts)
		case "duration_ns":
			var d int64
			d, bts, err = msgp.ReadInt64Bytes(bts)
			v.Duration = time.Duration(d)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size of v.
func (v *Verdict) Msgsize() int {
	s := msgp.MapHeaderSize +
		msgp.StringPrefixSize + len("verification_id") + msgp.StringPrefixSize + len(v.ID) +
		msgp.StringPrefixSize + len("bot") + msgp.StringPrefixSize + len(v.Bot) +
		msgp.StringPrefixSize + len("identity") + msgp.StringPrefixSize + len(v.Identity) +
		msgp.StringPrefixSize + len("ip") + msgp.StringPrefixSize + len(v.IP) +
		msgp.StringPrefixSize + len("verified") + msgp.BoolSize +
		msgp.StringPrefixSize + len("checked") + msgp.ArrayHeaderSize +
		msgp.StringPrefixSize + len("failed") + msgp.StringPrefixSize + len(v.Failed) +
		msgp.StringPrefixSize + len("cached") + msgp.BoolSize +
		msgp.StringPrefixSize + len("duration_ns") + msgp.Int64Size
	for _, k := range v.Checked {
		s += msgp.StringPrefixSize + len(k)
	}
	return s
}
